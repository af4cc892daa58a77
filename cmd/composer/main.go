// Command composer serves and inspects composed pages.
package main

import (
	"context"
	"os"
	"time"

	"github.com/conduit-lang/composer/internal/cli/commands"
	"github.com/conduit-lang/composer/internal/hydrate"
	"github.com/conduit-lang/composer/internal/segments"
)

func main() {
	if err := commands.Execute(builtinHydrators()); err != nil {
		os.Exit(1)
	}
}

// builtinHydrators are available to every manifest. Embedding programs
// register their own on top.
func builtinHydrators() *hydrate.Registry {
	reg := hydrate.NewRegistry()
	reg.Register("now", func(_ context.Context, _ *segments.Request, _ map[string]any) (map[string]any, error) {
		now := time.Now().UTC()
		return map[string]any{"now": now.Format(time.RFC3339), "year": now.Year()}, nil
	})
	return reg
}
