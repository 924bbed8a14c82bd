package main

import (
	"context"
	"fmt"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/extract"
)

type cmdExtract struct {
	storeFlags
	lookerFlags
	rateLimitFlags
	sessionFlags
	Types []string `long:"type" description:"Content type(s) to extract (default: every restorable type)"`
}

func (c *cmdExtract) Execute(_ []string) error {
	log := logger()
	ctx := context.Background()

	s, err := openStore(ctx, c.storeFlags, log)
	if err != nil {
		return err
	}
	defer s.Close()

	client, err := newLookerClient(ctx, c.lookerFlags, log)
	if err != nil {
		return err
	}

	types, err := parseTypes(c.Types)
	if err != nil {
		return newCLIError(exitValidation, "parsing --type", err)
	}

	o := &extract.Orchestrator{
		Store:   s,
		Client:  client,
		Limiter: newLimiter(ctx, c.rateLimitFlags),
		Codec:   content.NewCodec(),
		Logger:  log,
	}

	sessionID := newSessionID(c.Resume)
	log.WithField("session_id", sessionID).Info("starting extraction")

	err = o.Run(ctx, sessionID, types, extract.Config{
		Workers:            c.Workers,
		CheckpointInterval: c.CheckpointInterval,
		MaxRetries:         c.MaxRetries,
		FolderIDs:          c.FolderIDs,
	})
	if err != nil {
		return newCLIError(exitGeneral, "extraction failed", err)
	}

	fmt.Printf("extraction %s complete\n", sessionID)
	return nil
}

// parseTypes maps --type flag values to content.Type, defaulting to every
// restorable type plus EXPLORE when none are given.
func parseTypes(names []string) ([]content.Type, error) {
	if len(names) == 0 {
		return append(content.RestorableTypes(), content.TypeExplore), nil
	}
	out := make([]content.Type, 0, len(names))
	for _, n := range names {
		ct, ok := content.ParseType(n)
		if !ok {
			return nil, fmt.Errorf("unknown content type %q", n)
		}
		out = append(out, ct)
	}
	return out, nil
}
