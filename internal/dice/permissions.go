package dice

// Permission nodes checked against the caller.
const (
	PermBroadcast    = "dice.roll.broadcast"
	PermReload       = "dice.reload"
	PermRollAny      = "dice.roll.any"
	PermRollMultiple = "dice.roll.multiple"
)

// PermissionChecker is the permission oracle; host.Caller satisfies it.
type PermissionChecker interface {
	HasPermission(perm string) bool
}

// Capabilities is what a caller may do for one invocation. Derive it fresh
// every time; permissions can change between commands.
type Capabilities struct {
	Broadcast    bool
	Reload       bool
	RollAny      bool
	RollMultiple bool
}

func CanBroadcast(c PermissionChecker) bool    { return c != nil && c.HasPermission(PermBroadcast) }
func CanReload(c PermissionChecker) bool       { return c != nil && c.HasPermission(PermReload) }
func CanRollAny(c PermissionChecker) bool      { return c != nil && c.HasPermission(PermRollAny) }
func CanRollMultiple(c PermissionChecker) bool { return c != nil && c.HasPermission(PermRollMultiple) }

func CapabilitiesOf(c PermissionChecker) Capabilities {
	return Capabilities{
		Broadcast:    CanBroadcast(c),
		Reload:       CanReload(c),
		RollAny:      CanRollAny(c),
		RollMultiple: CanRollMultiple(c),
	}
}
