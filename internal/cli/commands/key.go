package commands

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/composer/internal/cli/ui"
	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/hydrate"
	"github.com/conduit-lang/composer/internal/segments"
)

type keyFlags struct {
	namespace string
	lang      string
	device    string
	consent   bool
	source    string
	campaign  string
	userID    string
	abID      string
	remote    string
	qa        bool
	query     []string
}

func newKeyCommand(flags *globalFlags, hydrators *hydrate.Registry) *cobra.Command {
	kf := &keyFlags{}
	cmd := &cobra.Command{
		Use:   "key <page> [slot]",
		Short: "Print the variant and cache key each slot would use",
		Long: `Plan a page for a synthetic request and print, per slot, the chosen variant,
the resolved component, whether the fragment is cacheable, its TTL and cache key.

Examples:
  composer key online_home
  composer key online_home hero --lang ar --device m --consent --ab-id visitor-1
  composer key online_home hero --query dwft_hero_v2=1`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, hydrators, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(cmd.Context()) }()

			req, err := kf.request(cfg.Render.DefaultLang)
			if err != nil {
				return err
			}
			pageID := args[0]
			plan, err := a.pipeline.BuildPage(cmd.Context(), a.pipeline.NewRenderContext(req, map[string]any{"page": pageID}), pageID)
			if err != nil {
				return err
			}

			tbl := ui.NewTable(cmd.OutOrStdout(), flags.noColor, "SLOT", "VARIANT", "COMPONENT", "CACHE", "TTL", "KEY")
			for _, sp := range plan.Slots {
				if len(args) == 2 && sp.SlotID != args[1] {
					continue
				}
				alias := sp.Alias
				if sp.Err != nil {
					alias += " (missing)"
				}
				cache := "no"
				if sp.Cacheable {
					cache = "yes"
				}
				tbl.AddRow(sp.SlotID, sp.Variant, alias, cache, strconv.Itoa(sp.TTL), sp.CacheKey)
			}
			if len(args) == 2 && tbl.Len() == 0 {
				return fmt.Errorf("page %s has no slot %s", pageID, args[1])
			}
			tbl.Render()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&kf.namespace, "ns", component.DefaultNamespace, "site version namespace")
	f.StringVar(&kf.lang, "lang", "", "language (default: render.default_lang)")
	f.StringVar(&kf.device, "device", segments.Desktop, "device: d or m")
	f.BoolVar(&kf.consent, "consent", false, "visitor gave consent")
	f.StringVar(&kf.source, "source", "", "marketing source")
	f.StringVar(&kf.campaign, "campaign", "", "marketing campaign")
	f.StringVar(&kf.userID, "user", "", "authenticated user id")
	f.StringVar(&kf.abID, "ab-id", "", "A/B cookie value")
	f.StringVar(&kf.remote, "remote-addr", "127.0.0.1", "client address")
	f.BoolVar(&kf.qa, "qa", false, "QA request")
	f.StringArrayVar(&kf.query, "query", nil, "query parameter name=value, repeatable")
	return cmd
}

func (kf *keyFlags) request(defaultLang string) (*segments.Request, error) {
	if kf.device != segments.Desktop && kf.device != segments.Mobile {
		return nil, fmt.Errorf("invalid device %q: want %s or %s", kf.device, segments.Desktop, segments.Mobile)
	}
	query := url.Values{}
	for _, q := range kf.query {
		name, value, ok := strings.Cut(q, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid query %q: want name=value", q)
		}
		query.Add(name, value)
	}
	lang := kf.lang
	if lang == "" {
		lang = defaultLang
	}
	consent := segments.ConsentNo
	if kf.consent {
		consent = segments.ConsentYes
	}
	return &segments.Request{
		Namespace: component.NormalizeNamespace(kf.namespace),
		Segments: segments.Segments{
			Lang:     strings.ToLower(lang),
			Device:   kf.device,
			Consent:  consent,
			Source:   kf.source,
			Campaign: kf.campaign,
			QA:       kf.qa,
		},
		UserID:     kf.userID,
		ABCookie:   kf.abID,
		RemoteAddr: kf.remote,
		Query:      query,
	}, nil
}
