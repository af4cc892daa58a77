package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/composer/internal/cli/ui"
	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/compose"
	"github.com/conduit-lang/composer/internal/expr"
	"github.com/conduit-lang/composer/internal/hydrate"
	"github.com/conduit-lang/composer/internal/pageconfig"
	"github.com/conduit-lang/composer/internal/values"
)

// problem is one row of the check report.
type problem struct {
	Namespace string
	Where     string
	Alias     string
	Message   string
}

func newCheckCommand(flags *globalFlags, hydrators *hydrate.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate manifests and page configs of every namespace",
		Long: `Discover every component, load the page config of every namespace and
verify that each slot variant and each static child alias resolves, with
core fallback. Unknown aliases get "did you mean" suggestions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, hydrators, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			problems, err := a.check()
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), flags.noColor, a.registry.Len(), problems)
		},
	}
}

// check walks every namespace, page and slot.
func (a *app) check() ([]problem, error) {
	var out []problem
	for _, w := range a.discovery.Warnings {
		out = append(out, problem{Where: "discovery", Message: w})
	}
	known := a.registry.AllAliases()
	missing := func(ns, where, alias string) {
		msg := "unknown component"
		if s := ui.DidYouMean(ui.FindSimilar(alias, known)); s != "" {
			msg += ", " + s
		}
		out = append(out, problem{Namespace: ns, Where: where, Alias: alias, Message: msg})
	}

	namespaces, err := a.loader.Namespaces()
	if err != nil {
		return nil, err
	}
	scanned := make(map[string]bool, len(namespaces))
	for _, ns := range namespaces {
		scanned[ns] = true
	}
	for _, ns := range a.cfg.Namespaces.Known {
		if ns = component.NormalizeNamespace(ns); !scanned[ns] {
			out = append(out, problem{Namespace: ns, Where: "config", Message: "declared in namespaces.known but has no config directory"})
		}
	}
	for _, ns := range namespaces {
		view, err := a.loader.View(ns)
		if err != nil {
			out = append(out, problem{Namespace: ns, Where: "config", Message: err.Error()})
			continue
		}
		for _, pageID := range view.Pages() {
			page, err := view.Page(pageID)
			if err != nil {
				out = append(out, problem{Namespace: ns, Where: pageID, Message: err.Error()})
				continue
			}
			for _, slot := range page.Slots {
				where := pageID + "." + slot.ID
				for _, v := range slotVariants(view, page, slot) {
					if v.Alias == "" {
						out = append(out, problem{Namespace: ns, Where: where, Message: fmt.Sprintf("variant %s has no component", v.Key)})
						continue
					}
					if !expr.IsDynamic(v.Alias) && !a.registry.Exists(v.Alias, ns, true) {
						missing(ns, where, v.Alias)
					}
				}
				for _, id := range values.SortedKeys(slot.Children) {
					child := slot.Children[id]
					for _, alias := range child.StaticAliases() {
						if !a.registry.Exists(alias, childNamespace(child.Namespace, ns), true) {
							missing(ns, where+"/"+id, alias)
						}
					}
				}
			}
		}
	}

	for _, e := range a.registry.Entries() {
		m := e.Metadata
		for _, id := range m.Compose.ChildIDs() {
			child := m.Compose.Children[id]
			for _, alias := range child.StaticAliases() {
				if !a.registry.Exists(alias, childNamespace(child.Namespace, m.Namespace), true) {
					missing(m.Namespace, m.Alias+"/"+id, alias)
				}
			}
			for _, v := range child.VariantMap() {
				if expr.IsDynamic(v.Alias) {
					if _, err := expr.Parse(v.Alias); err != nil {
						out = append(out, problem{Namespace: m.Namespace, Where: m.Alias + "/" + id, Alias: v.Alias, Message: err.Error()})
					}
				}
			}
		}
	}
	return out, nil
}

// slotVariants overlays experiments.yml variants on the slot's own.
func slotVariants(view *pageconfig.View, page *pageconfig.PageSpec, slot pageconfig.Slot) component.Variants {
	expID := slot.Experiment
	if expID == "" {
		expID = page.ID + "." + slot.ID
	}
	return compose.OverlayVariants(slot.Variants, view.Experiments[expID].Variants)
}

func childNamespace(override, ns string) string {
	if override != "" {
		return component.NormalizeNamespace(override)
	}
	return ns
}

func report(w io.Writer, noColor bool, components int, problems []problem) error {
	p := ui.Printer{W: w, NoColor: noColor}
	if len(problems) == 0 {
		p.Success("%d components, no problems found", components)
		return nil
	}
	tbl := ui.NewTable(w, noColor, "NAMESPACE", "WHERE", "ALIAS", "PROBLEM")
	for _, pr := range problems {
		tbl.AddRow(pr.Namespace, pr.Where, pr.Alias, pr.Message)
	}
	tbl.Render()
	fmt.Fprintln(w)
	p.Error("%d problems found across %d components", len(problems), components)
	return fmt.Errorf("check failed: %d problems", len(problems))
}
