package adminapi

import "fmt"

var (
	errNoOrchestrator = fmt.Errorf("adminapi: no orchestrator configured")
	errNoReloadHook   = fmt.Errorf("adminapi: no configuration reload hook configured")
)

func errUnknownCommand(t string) error {
	return fmt.Errorf("adminapi: unknown command type %q", t)
}
