package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/z3z1ma/lookervault/internal/ambient"
)

// Exit codes per spec.md §6 "CLI".
const (
	exitOK                = 0
	exitGeneral           = 1
	exitValidation        = 2
	exitConnection        = 3
	exitCircularFolder    = 4
	exitTransactionFailed = 5
	exitInterrupted       = 130
)

var logCfg ambient.LogConfig

func main() {
	parser := flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)
	_, err := parser.AddGroup("logging", "Logging options", &logCfg)
	must(err)

	addCmd(parser, "extract", "Extract content from a Looker instance", `
Extract one or more content types from a Looker instance into the local
content repository, optionally in parallel with checkpointed resume.
`, &cmdExtract{})

	restoreCmd, err := parser.Command.AddCommand("restore", "Restore content to a Looker instance", "", &struct{}{})
	must(err)

	addCmd(restoreCmd, "single", "Restore a single content item", "", &cmdRestoreSingle{})
	addCmd(restoreCmd, "bulk", "Restore every item of one content type", "", &cmdRestoreBulk{})
	addCmd(restoreCmd, "all", "Restore every restorable content type in dependency order", "", &cmdRestoreAll{})
	addCmd(restoreCmd, "resume", "Resume a restoration session from its checkpoints", "", &cmdRestoreResume{})
	addCmd(restoreCmd, "status", "Show a restoration session's progress", "", &cmdRestoreStatus{})

	dlqCmd, err := restoreCmd.AddCommand("dlq", "Inspect and retry dead-lettered items", "", &struct{}{})
	must(err)
	addCmd(dlqCmd, "list", "List dead-letter queue entries", "", &cmdDLQList{})
	addCmd(dlqCmd, "show", "Show one dead-letter queue entry", "", &cmdDLQShow{})
	addCmd(dlqCmd, "retry", "Retry one dead-letter queue entry", "", &cmdDLQRetry{})
	addCmd(dlqCmd, "clear", "Clear every dead-letter queue entry for a session", "", &cmdDLQClear{})

	addCmd(parser, "unpack", "Export the content repository to a YAML tree", "", &cmdUnpack{})
	addCmd(parser, "pack", "Import an edited YAML tree back into the repository", "", &cmdPack{})

	if _, err := parser.Parse(); err != nil {
		code := exitGeneral
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(exitOK)
		}
		if ce, ok := err.(*cliError); ok {
			code = ce.code
			if code != exitInterrupted {
				log.WithField("err", ce.cause).Error(ce.message)
			}
		} else {
			log.WithField("err", err).Error("command failed")
		}
		os.Exit(code)
	}
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, name, short, long string, iface interface{}) *flags.Command {
	cmd, err := to.AddCommand(name, short, long, iface)
	must(err)
	return cmd
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// cliError carries the exit code a command wants main() to use, per
// spec.md §6's exit code table.
type cliError struct {
	code    int
	message string
	cause   error
}

func (e *cliError) Error() string { return e.message }

func newCLIError(code int, message string, cause error) *cliError {
	return &cliError{code: code, message: message, cause: cause}
}
