package plugin

import (
	"dicebot/internal/config"
	"dicebot/internal/router"
	"dicebot/internal/runtime/supervisor"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

// PluginConfigRaw is the raw per-plugin config blob inside config.Config.
type PluginConfigRaw = config.PluginConfigRaw

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

// ---- Router API ----

type Command = router.Command

type Request = router.Request

type HandlerFunc = router.HandlerFunc

type CommandManager = router.CommandManager
