// Package risk rates a single activity record. Each tool category has an
// ordered rule table; every matching rule contributes a flag and the highest
// tier among them decides the verdict level.
package risk

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/signals"
)

// Config tunes a Classifier.
type Config struct {
	// TrustedRoots are path prefixes writes are expected under. Writes
	// elsewhere escalate low to medium. Empty disables the check.
	TrustedRoots []string
	// ExtraRules are appended after the built-in table of their category.
	ExtraRules []Rule
}

// Classifier evaluates records against per-category rule tables.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	tables       map[signals.Category][]Rule
	trustedRoots []string
}

// New builds a Classifier from the built-in tables plus cfg.ExtraRules.
func New(cfg Config) *Classifier {
	tables := builtinRules()
	for _, r := range cfg.ExtraRules {
		if r.Field == "" {
			r.Field = DefaultField(r.Category)
		}
		tables[r.Category] = append(append([]Rule{}, tables[r.Category]...), r)
	}

	roots := make([]string, 0, len(cfg.TrustedRoots))
	for _, root := range cfg.TrustedRoots {
		root = strings.TrimSuffix(signals.NormalizePath(root), "/")
		if root != "" {
			roots = append(roots, root)
		}
	}
	return &Classifier{tables: tables, trustedRoots: roots}
}

var defaultClassifier = New(Config{})

// Classify rates rec with the built-in tables and no trusted roots.
func Classify(rec model.Record) model.Verdict {
	return defaultClassifier.Classify(rec)
}

// Classify maps one record to a verdict. It never fails: unknown tools and
// missing arguments yield low with no flags.
func (c *Classifier) Classify(rec model.Record) model.Verdict {
	category := signals.CategoryOf(rec.Tool)

	var flags []model.Flag
	seen := make(map[model.Flag]bool)
	level := model.LevelLow
	add := func(f model.Flag) {
		if seen[f] {
			return
		}
		seen[f] = true
		flags = append(flags, f)
		level = model.MaxLevel(level, f.Level)
	}

	for _, r := range c.tables[category] {
		if !r.applies(rec) {
			continue
		}
		if r.matches(fieldValue(rec, r.Field)) {
			add(model.Flag{Level: r.Level, Evidence: r.Evidence})
		}
	}

	for _, f := range c.supplementary(category, rec, level) {
		add(f)
	}

	sort.SliceStable(flags, func(i, j int) bool {
		return flags[i].Level.Rank() > flags[j].Level.Rank()
	})
	return model.NewVerdict(level, flags)
}

// supplementary applies category heuristics that only escalate when no rule
// at or above their tier has already fired.
func (c *Classifier) supplementary(category signals.Category, rec model.Record, current model.Level) []model.Flag {
	var out []model.Flag
	switch category {
	case signals.CategoryFile:
		if current.Rank() < model.LevelMedium.Rank() && signals.IsWriteTool(rec) {
			if p := signals.PathOf(rec); p != "" && !c.underTrustedRoot(p) {
				out = append(out, model.Flag{Level: model.LevelMedium, Evidence: "write outside trusted roots"})
			}
		}

	case signals.CategoryNetwork, signals.CategoryBrowser:
		u := signals.URLOf(rec)
		switch {
		case current.Rank() < model.LevelHigh.Rank() && isIPLiteralURL(u):
			out = append(out, model.Flag{Level: model.LevelHigh, Evidence: "raw IP address URL"})
		case current.Rank() < model.LevelMedium.Rank() && isPlainHTTP(u):
			out = append(out, model.Flag{Level: model.LevelMedium, Evidence: "unencrypted http URL"})
		}
		if category == signals.CategoryBrowser && current == model.LevelLow && len(out) == 0 {
			out = append(out, model.Flag{Level: model.LevelMedium, Evidence: "browser automation"})
		}

	case signals.CategoryMessage:
		if current.Rank() < model.LevelHigh.Rank() && signals.IsMessageSend(rec) {
			out = append(out, model.Flag{Level: model.LevelHigh, Evidence: "outbound message send"})
		}
	}
	return out
}

// underTrustedRoot reports whether p lies under a trusted root. Relative
// paths resolve against the agent workspace and count as trusted. With no
// roots configured every path is trusted.
func (c *Classifier) underTrustedRoot(p string) bool {
	if len(c.trustedRoots) == 0 {
		return true
	}
	np := signals.NormalizePath(p)
	if !strings.HasPrefix(np, "/") && !strings.HasPrefix(np, "~") && !isDriveLetter(np) {
		return true
	}
	for _, root := range c.trustedRoots {
		if np == root || strings.HasPrefix(np, root+"/") {
			return true
		}
	}
	return false
}

func isDriveLetter(p string) bool {
	return len(p) >= 3 && p[1] == ':' && p[2] == '/'
}

func fieldValue(rec model.Record, f Field) string {
	switch f {
	case FieldCommand:
		return signals.NormalizeCommand(signals.CommandOf(rec))
	case FieldPath:
		return signals.NormalizePath(signals.PathOf(rec))
	case FieldURL:
		return strings.ToLower(strings.TrimSpace(signals.URLOf(rec)))
	case FieldMessage:
		return signals.MessageOf(rec)
	case FieldAction:
		return strings.ToLower(strings.TrimSpace(signals.ActionOf(rec)))
	}
	return ""
}

func urlHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func isIPLiteralURL(raw string) bool {
	host := urlHost(raw)
	if host == "" || isLoopbackHost(host) {
		return false
	}
	return net.ParseIP(host) != nil
}

func isPlainHTTP(raw string) bool {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "http://") {
		return false
	}
	host := urlHost(raw)
	return host != "" && !isLoopbackHost(host)
}
