package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/composer/internal/cli/ui"
	"github.com/conduit-lang/composer/internal/component"
)

var aliasPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*(/[a-z0-9][a-z0-9_-]*)*$`)

var manifestTemplate = template.Must(template.New("manifest").Parse(`alias: {{ .Alias }}
params:
  title: {{ .Title }}
assets:
  css: []
  js: []
contract:
  required:
    title: str
render:
  cacheable: {{ .Cacheable }}
  ttl: {{ .TTL }}
`))

const componentTemplate = `<section>{{ .title }}</section>
`

type scaffoldOptions struct {
	Alias     string
	Namespace string
	Root      string
	Title     string
	Cacheable bool
	TTL       int
	yes       bool
}

func newScaffoldCommand(flags *globalFlags) *cobra.Command {
	so := &scaffoldOptions{}
	cmd := &cobra.Command{
		Use:   "scaffold [alias]",
		Short: "Create a component manifest and template",
		Long: `Create <root>/[<ns>/]components/<alias>/manifest.yml and component.html.

Missing answers are prompted for unless --yes is given. Existing files are
never overwritten.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				so.Alias = args[0]
			}
			if so.Root == "" {
				cfg, _, err := flags.load()
				if err != nil {
					return err
				}
				so.Root = cfg.Paths.TemplateRoots[0]
			}
			if !so.yes {
				if err := so.ask(cmd.Flags().Changed("cacheable")); err != nil {
					return err
				}
			}
			dir, err := so.write()
			if err != nil {
				return err
			}
			ui.Printer{W: cmd.OutOrStdout(), NoColor: flags.noColor}.Success("created %s", dir)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&so.Namespace, "ns", component.DefaultNamespace, "namespace the component belongs to")
	f.StringVar(&so.Root, "root", "", "template root (default: first of paths.template_roots)")
	f.StringVar(&so.Title, "title", "", "default title param")
	f.BoolVar(&so.Cacheable, "cacheable", true, "mark the fragment cacheable")
	f.IntVar(&so.TTL, "ttl", 300, "fragment TTL in seconds")
	f.BoolVarP(&so.yes, "yes", "y", false, "do not prompt")
	return cmd
}

func (so *scaffoldOptions) ask(cacheableSet bool) error {
	var qs []*survey.Question
	if so.Alias == "" {
		qs = append(qs, &survey.Question{
			Name:     "Alias",
			Prompt:   &survey.Input{Message: "Component alias (e.g. hero/cover):"},
			Validate: survey.ComposeValidators(survey.Required, validateAlias),
		})
	}
	if so.Title == "" {
		qs = append(qs, &survey.Question{
			Name:   "Title",
			Prompt: &survey.Input{Message: "Default title:", Default: "Untitled"},
		})
	}
	if !cacheableSet {
		qs = append(qs, &survey.Question{
			Name:   "Cacheable",
			Prompt: &survey.Confirm{Message: "Cache rendered fragments?", Default: so.Cacheable},
		})
	}
	if len(qs) == 0 {
		return nil
	}
	return survey.Ask(qs, so)
}

func validateAlias(v any) error {
	s, _ := v.(string)
	if !aliasPattern.MatchString(s) {
		return fmt.Errorf("alias %q must be lowercase slash-separated segments", s)
	}
	return nil
}

// write creates the component directory and fails if it already exists.
func (so *scaffoldOptions) write() (string, error) {
	so.Alias = strings.TrimSpace(so.Alias)
	if err := validateAlias(so.Alias); err != nil {
		return "", err
	}
	if so.Title == "" {
		so.Title = "Untitled"
	}
	if so.TTL < 0 {
		return "", errors.New("ttl must not be negative")
	}
	base := so.Root
	if ns := component.NormalizeNamespace(so.Namespace); ns != component.DefaultNamespace {
		base = filepath.Join(base, ns)
	}
	dir := filepath.Join(base, "components", filepath.FromSlash(so.Alias))
	if _, err := os.Stat(filepath.Join(dir, "manifest.yml")); err == nil {
		return "", fmt.Errorf("component %s already exists at %s", so.Alias, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var manifest strings.Builder
	if err := manifestTemplate.Execute(&manifest, so); err != nil {
		return "", err
	}
	if err := writeNew(filepath.Join(dir, "manifest.yml"), manifest.String()); err != nil {
		return "", err
	}
	if err := writeNew(filepath.Join(dir, "component.html"), componentTemplate); err != nil {
		return "", err
	}
	return dir, nil
}

func writeNew(path, body string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
