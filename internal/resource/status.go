package resource

// Status is a resource's position in the lifecycle state machine.
type Status string

const (
	NotStarted Status = "not_started"
	Starting   Status = "starting"
	Running    Status = "running"
	Stopped    Status = "stopped"
	Failed     Status = "failed"
	Crashed    Status = "crashed"
)

// Role classifies a resource for the service-status event and for the
// service watcher's (name, role) restart lookup.
type Role string

const (
	RoleBase     Role = "base"
	RoleCore     Role = "core"
	RoleResource Role = "resource"
	RoleService  Role = "service"
	RoleApp      Role = "app"
)
