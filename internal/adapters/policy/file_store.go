package policy

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Entry is one line of a policy seed file
type Entry struct {
	Type   string `yaml:"type"`
	Value  string `yaml:"value"`
	Active *bool  `yaml:"active"`
}

// File is the YAML layout of a policy seed file
type File struct {
	Allow []Entry `yaml:"allow"`
	Block []Entry `yaml:"block"`
}

// Writer is the part of the repository that accepts policy entries
type Writer interface {
	AddPolicyEntry(ctx context.Context, entry *core.PolicyEntry) error
}

// Importer loads allow and block lists from YAML into a repository
type Importer struct {
	repo   Writer
	logger *zap.Logger
}

// NewImporter creates a new policy importer
func NewImporter(repo Writer, logger *zap.Logger) *Importer {
	return &Importer{repo: repo, logger: logger}
}

// ImportFile reads a seed file and imports every entry in it
func (i *Importer) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	n, err := i.Import(ctx, f)
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	i.logger.Info("Policy file imported", zap.String("path", path), zap.Int("entries", n))
	return n, nil
}

// Import decodes YAML from r and upserts the entries; it stops at the first bad entry
func (i *Importer) Import(ctx context.Context, r io.Reader) (int, error) {
	var file File
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to parse policy file: %w", err)
	}

	count := 0
	lists := []struct {
		listType core.ListType
		entries  []Entry
	}{
		{core.ListAllow, file.Allow},
		{core.ListBlock, file.Block},
	}
	for _, list := range lists {
		for _, e := range list.entries {
			entry, err := toPolicyEntry(list.listType, e)
			if err != nil {
				return count, err
			}
			if err := i.repo.AddPolicyEntry(ctx, entry); err != nil {
				return count, fmt.Errorf("failed to add %s entry %q: %w", list.listType, entry.Value, err)
			}
			count++
		}
	}
	return count, nil
}

func toPolicyEntry(listType core.ListType, e Entry) (*core.PolicyEntry, error) {
	value := strings.ToLower(strings.TrimSpace(e.Value))
	if value == "" {
		return nil, fmt.Errorf("%s entry with empty value", listType)
	}

	entryType := core.EntryType(strings.ToLower(strings.TrimSpace(e.Type)))
	switch entryType {
	case core.EntryDomain, core.EntryEmail, core.EntryURL, core.EntryIP:
	case "":
		entryType = guessType(value)
	default:
		return nil, fmt.Errorf("unknown entry type %q for %q", e.Type, value)
	}

	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return &core.PolicyEntry{
		ListType:  listType,
		EntryType: entryType,
		Value:     value,
		Active:    active,
	}, nil
}

func guessType(value string) core.EntryType {
	switch {
	case strings.Contains(value, "://"):
		return core.EntryURL
	case strings.Contains(value, "@"):
		return core.EntryEmail
	case net.ParseIP(value) != nil:
		return core.EntryIP
	default:
		return core.EntryDomain
	}
}
