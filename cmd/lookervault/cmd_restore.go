package main

import (
	"context"
	"fmt"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/restore"
)

// restoreArgs are the flags shared by every restore subcommand.
type restoreArgs struct {
	storeFlags
	lookerFlags
	rateLimitFlags
	sessionFlags
	SourceInstance      string `long:"source-instance" description:"Source Looker instance name, for cross-instance ID remapping"`
	DestinationInstance string `long:"destination-instance" description:"Destination Looker instance name"`
}

func (a restoreArgs) toConfig() restore.Config {
	return restore.Config{
		Workers:             a.Workers,
		CheckpointInterval:  a.CheckpointInterval,
		MaxRetries:          a.MaxRetries,
		DryRun:              a.DryRun,
		Force:               a.Force,
		FolderIDs:           a.FolderIDs,
		SourceInstance:      a.SourceInstance,
		DestinationInstance: a.DestinationInstance,
	}
}

func (a restoreArgs) newOrchestrator(ctx context.Context) (*restore.Orchestrator, func(), error) {
	log := logger()
	s, err := openStore(ctx, a.storeFlags, log)
	if err != nil {
		return nil, nil, err
	}
	client, err := newLookerClient(ctx, a.lookerFlags, log)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	o := &restore.Orchestrator{
		Store:   s,
		Client:  client,
		Limiter: newLimiter(ctx, a.rateLimitFlags),
		Codec:   content.NewCodec(),
		Logger:  log,
	}
	return o, func() { s.Close() }, nil
}

type cmdRestoreSingle struct {
	restoreArgs
	Type string `long:"type" required:"true" description:"Content type"`
	ID   string `long:"id" required:"true" description:"Source content ID to restore"`
}

func (c *cmdRestoreSingle) Execute(_ []string) error {
	ctx := context.Background()
	o, closeFn, err := c.newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	ct, ok := content.ParseType(c.Type)
	if !ok {
		return newCLIError(exitValidation, "parsing --type", fmt.Errorf("unknown content type %q", c.Type))
	}

	sessionID := newSessionID(c.Resume)
	result := o.RestoreSingle(ctx, sessionID, ct, c.ID, c.toConfig())
	if result.Err != nil {
		return newCLIError(exitGeneral, "restore failed", result.Err)
	}
	fmt.Printf("restored %s %s -> %s (created=%v)\n", ct, c.ID, result.DestinationID, result.Created)
	return nil
}

type cmdRestoreBulk struct {
	restoreArgs
	Type string `long:"type" required:"true" description:"Content type"`
}

func (c *cmdRestoreBulk) Execute(_ []string) error {
	ctx := context.Background()
	o, closeFn, err := c.newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	ct, ok := content.ParseType(c.Type)
	if !ok {
		return newCLIError(exitValidation, "parsing --type", fmt.Errorf("unknown content type %q", c.Type))
	}

	sessionID := newSessionID(c.Resume)
	processed, failed, err := o.RestoreBulk(ctx, sessionID, ct, c.toConfig())
	if err != nil {
		return newCLIError(exitGeneral, "bulk restore failed", err)
	}
	fmt.Printf("restored %d, failed %d (dlq), session %s\n", processed, failed, sessionID)
	return nil
}

type cmdRestoreAll struct {
	restoreArgs
}

func (c *cmdRestoreAll) Execute(_ []string) error {
	ctx := context.Background()
	o, closeFn, err := c.newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	sessionID := newSessionID(c.Resume)
	if err := o.RestoreAll(ctx, sessionID, c.toConfig()); err != nil {
		if err == restore.ErrConfirmationRequired {
			return newCLIError(exitValidation, "restore all requires --force or --dry-run", err)
		}
		return newCLIError(exitGeneral, "restore all failed", err)
	}
	fmt.Printf("restore all complete, session %s\n", sessionID)
	return nil
}

type cmdRestoreResume struct {
	restoreArgs
	Types []string `long:"type" description:"Content type(s) to resume (default: every restorable type)"`
}

func (c *cmdRestoreResume) Execute(_ []string) error {
	ctx := context.Background()
	if c.Resume == "" {
		return newCLIError(exitValidation, "resume requires --resume SESSION_ID", fmt.Errorf("missing --resume"))
	}
	o, closeFn, err := c.newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	types := content.RestorableTypes()
	if len(c.Types) > 0 {
		types, err = parseTypes(c.Types)
		if err != nil {
			return newCLIError(exitValidation, "parsing --type", err)
		}
	}

	if err := o.RestoreResume(ctx, c.Resume, types, c.toConfig()); err != nil {
		return newCLIError(exitGeneral, "resume failed", err)
	}
	fmt.Printf("resume complete, session %s\n", c.Resume)
	return nil
}

type cmdRestoreStatus struct {
	storeFlags
	SessionID string `long:"session" required:"true" description:"Restoration session ID"`
}

// Execute implements the supplemented "restore status" operation
// (SPEC_FULL.md §6): a read-only composition of the session row named by
// --session and its current DLQ depth. Checkpoints are not read or shown.
func (c *cmdRestoreStatus) Execute(_ []string) error {
	ctx := context.Background()
	log := logger()
	s, err := openStore(ctx, c.storeFlags, log)
	if err != nil {
		return err
	}
	defer s.Close()

	sess, found, err := s.GetRestorationSession(ctx, c.SessionID)
	if err != nil {
		return newCLIError(exitGeneral, "loading session", err)
	}
	if !found {
		return newCLIError(exitValidation, "session not found", fmt.Errorf("%s", c.SessionID))
	}

	dlq, err := s.ListDLQ(ctx, c.SessionID, nil)
	if err != nil {
		return newCLIError(exitGeneral, "loading DLQ", err)
	}

	fmt.Printf("session %s: status=%s total=%d success=%d error=%d dlq=%d\n",
		sess.ID, sess.Status, sess.TotalItems, sess.SuccessCount, sess.ErrorCount, len(dlq))
	return nil
}
