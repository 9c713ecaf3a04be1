package app

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hearthhq/hearth/internal/domain"
	"github.com/hearthhq/hearth/internal/store"
)

// seedFile mirrors the YAML layout of the household file. Records are
// keyed by id, so re-applying the same file on every start is harmless.
type seedFile struct {
	Homes []struct {
		ID     string `yaml:"id"`
		Name   string `yaml:"name"`
		Active *bool  `yaml:"active"`
	} `yaml:"homes"`
	Children []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"children"`
	Sources []struct {
		ID        string `yaml:"id"`
		ChildID   string `yaml:"child_id"`
		Name      string `yaml:"name"`
		URL       string `yaml:"url"`
		Color     string `yaml:"color"`
		IsPrimary bool   `yaml:"is_primary"`
	} `yaml:"sources"`
}

// ApplySeed loads the household registry from a YAML file into the store.
// Homes default to active unless the file says otherwise.
func ApplySeed(ctx context.Context, st *store.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, h := range seed.Homes {
		active := true
		if h.Active != nil {
			active = *h.Active
		}
		if _, err := st.UpsertHome(ctx, domain.Home{ID: h.ID, Name: h.Name, Active: active}); err != nil {
			return fmt.Errorf("seed home %s: %w", h.ID, err)
		}
	}
	for _, c := range seed.Children {
		if _, err := st.UpsertChild(ctx, domain.Child{ID: c.ID, Name: c.Name}); err != nil {
			return fmt.Errorf("seed child %s: %w", c.ID, err)
		}
	}
	for _, s := range seed.Sources {
		src := domain.CalendarSource{
			ID:        s.ID,
			ChildID:   s.ChildID,
			Name:      s.Name,
			URL:       s.URL,
			Color:     s.Color,
			IsPrimary: s.IsPrimary,
		}
		if _, err := st.UpsertSource(ctx, src); err != nil {
			return fmt.Errorf("seed source %s: %w", s.ID, err)
		}
	}
	return nil
}
