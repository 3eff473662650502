// Package profile manages the per-user vidnote profile at
// ~/.config/vidnote/profile.json. It is written by the setup wizard and
// read on every command to stamp annotations and fill config gaps.
package profile

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/fakeyudi/vidnote/internal/config"
)

// ErrNoProfile is returned by Load before setup has been run.
var ErrNoProfile = errors.New("no profile, run 'vidnote setup' first")

// Profile holds user-level preferences set during first-run setup.
type Profile struct {
	Name              string `json:"name"`
	CreatorID         string `json:"creator_id"`
	DefaultFormat     string `json:"default_format"`
	Store             string `json:"store"`
	PauseOnAnnotation bool   `json:"pause_on_annotation"`
}

var (
	formats = []string{"markdown", "json", "yaml"}
	stores  = []string{"json", "sqlite"}
)

// Path returns the location of the profile file.
func Path() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.json"), nil
}

// Exists reports whether a profile file is present on disk.
func Exists() bool {
	p, err := Path()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Load reads the profile from disk.
func Load() (*Profile, error) {
	p, err := Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoProfile
	}
	if err != nil {
		return nil, err
	}
	var prof Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, fmt.Errorf("malformed profile at %s: %w", p, err)
	}
	return &prof, nil
}

// Save writes the profile through a temp file and rename so a crash never
// leaves a half-written profile behind.
func Save(prof *Profile) error {
	p, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "profile-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

type prompter struct {
	r   *bufio.Reader
	out io.Writer
}

// ask prints prompt and returns the trimmed answer, or def on an empty line.
func (p prompter) ask(prompt, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "  %s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(p.out, "  %s: ", prompt)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return def, nil
	}
	return line, nil
}

// choose repeats the prompt until the answer is one of options.
func (p prompter) choose(prompt string, options []string, def string) (string, error) {
	label := fmt.Sprintf("%s (%s)", prompt, strings.Join(options, "/"))
	for {
		ans, err := p.ask(label, def)
		if err != nil {
			return "", err
		}
		ans = strings.ToLower(ans)
		if slices.Contains(options, ans) {
			return ans, nil
		}
		fmt.Fprintf(p.out, "  %q is not one of %s\n", ans, strings.Join(options, ", "))
	}
}

func (p prompter) confirm(prompt string, def bool) (bool, error) {
	d := "n"
	if def {
		d = "y"
	}
	ans, err := p.choose(prompt, []string{"y", "n", "yes", "no"}, d)
	if err != nil {
		return false, err
	}
	return ans == "y" || ans == "yes", nil
}

// RunSetup runs the interactive setup wizard, reading answers from in.
// A non-nil existing profile supplies the defaults for each prompt.
func RunSetup(in io.Reader, out io.Writer, existing *Profile) (*Profile, error) {
	p := prompter{r: bufio.NewReader(in), out: out}

	prof := &Profile{
		DefaultFormat:     "markdown",
		Store:             "json",
		PauseOnAnnotation: true,
	}
	if existing != nil {
		*prof = *existing
	}
	if prof.CreatorID == "" {
		prof.CreatorID = uuid.NewString()
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(out, "  │    vidnote: first-run setup     │")
	fmt.Fprintln(out, "  └─────────────────────────────────┘")
	fmt.Fprintln(out)

	var err error
	if prof.Name, err = p.ask("Your name (shown on annotations)", prof.Name); err != nil {
		return nil, err
	}
	if prof.DefaultFormat, err = p.choose("Default export format", formats, prof.DefaultFormat); err != nil {
		return nil, err
	}
	if prof.Store, err = p.choose("Annotation storage", stores, prof.Store); err != nil {
		return nil, err
	}
	if prof.PauseOnAnnotation, err = p.confirm("Pause playback at each annotation", prof.PauseOnAnnotation); err != nil {
		return nil, err
	}

	fmt.Fprintln(out)
	return prof, nil
}
