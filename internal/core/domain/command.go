package domain

const (
	COMMAND_REBOOT = "REBOOT"
)

type CommandAction int

const (
	COMMAND_ACTION_NONE CommandAction = iota
	COMMAND_ACTION_RESTART
)
