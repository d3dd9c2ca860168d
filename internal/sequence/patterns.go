package sequence

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/signals"
)

// Sequence types.
const (
	TypeCredentialToNetwork  = "Credential Access → Network"
	TypePrivilegedBurst      = "Privilege Escalation Burst"
	TypeConfigThenRestart    = "Config Tampering → Service Restart"
	TypeCredentialInMessage  = "Credential Exfiltration via Message"
	TypeSSHKeyToConnection   = "SSH Key Access → Connection"
	TypeCloneThenInstall     = "Repository Clone → Package Install"
	TypeDownloadThenExecute  = "Download → Execute"
	TypePasswordManagerToNet = "Password Manager → Outbound"
	TypeBulkEnumeration      = "Bulk File Enumeration"
	TypeScheduledTask        = "Scheduled Task Persistence"
	TypePersistenceWrite     = "Persistence Path Write"
	TypeMediaCapture         = "Media Capture"
	TypeKeychainExtraction   = "Keychain Extraction"
)

// matcher evaluates one pattern anchored at records[i].
type matcher interface {
	match(s *scan, i int) (model.Sequence, bool)
}

// pairPattern fires when a trigger record is followed by a matching record
// within windowFactor × Window. The first follow-up wins.
type pairPattern struct {
	typ          string
	description  string
	windowFactor int
	trigger      func(model.Record) bool
	follow       func(trigger, next model.Record) bool
}

func (p pairPattern) match(s *scan, i int) (model.Sequence, bool) {
	first := s.records[i]
	if !p.trigger(first) {
		return model.Sequence{}, false
	}
	factor := p.windowFactor
	if factor < 1 {
		factor = 1
	}

	var seq model.Sequence
	found := false
	visit := func(j int, delta time.Duration) bool {
		next := s.records[j]
		if !p.follow(first, next) {
			return true
		}
		seq = model.Sequence{
			Type:        p.typ,
			Description: p.description,
			Reason:      fmt.Sprintf("%s followed by %s %s later", first.Summary(), next.Summary(), formatDelta(delta)),
			Timestamp:   first.Timestamp,
			Actions:     []model.SequenceAction{model.ActionFrom(first), model.ActionFrom(next)},
		}
		found = true
		return false
	}
	s.sameInstant(i, func(j int) bool { return visit(j, 0) })
	if !found {
		s.lookahead(i, time.Duration(factor)*s.cfg.Window, visit)
	}
	return seq, found
}

// burstPattern fires when at least minCount records matching member occur within
// a window of the anchor, the anchor included.
type burstPattern struct {
	typ         string
	description string
	noun        string
	member      func(model.Record) bool
	window      func(Config) time.Duration
	minCount    func(Config) int
}

func (p burstPattern) match(s *scan, i int) (model.Sequence, bool) {
	first := s.records[i]
	if !p.member(first) || s.inBurst(p.typ, first.Timestamp) {
		return model.Sequence{}, false
	}

	w := p.window(s.cfg)
	members := []model.Record{first}
	s.lookahead(i, w, func(j int, _ time.Duration) bool {
		if p.member(s.records[j]) {
			members = append(members, s.records[j])
		}
		return true
	})

	if len(members) < p.minCount(s.cfg) {
		return model.Sequence{}, false
	}
	last := members[len(members)-1]
	if !s.claimBurst(p.typ, first.Timestamp, last.Timestamp, w) {
		return model.Sequence{}, false
	}

	actions := make([]model.SequenceAction, 0, len(members))
	for _, m := range members {
		actions = append(actions, model.ActionFrom(m))
	}
	return model.Sequence{
		Type:        p.typ,
		Description: p.description,
		Reason:      fmt.Sprintf("%d %s within %s", len(members), p.noun, formatDelta(last.Timestamp.Sub(first.Timestamp))),
		Timestamp:   first.Timestamp,
		Actions:     actions,
	}, true
}

// singlePattern fires on one record.
type singlePattern struct {
	typ         string
	description string
	reason      string
	trigger     func(model.Record) bool
}

func (p singlePattern) match(s *scan, i int) (model.Sequence, bool) {
	r := s.records[i]
	if !p.trigger(r) {
		return model.Sequence{}, false
	}
	return model.Sequence{
		Type:        p.typ,
		Description: p.description,
		Reason:      fmt.Sprintf("%s: %s", p.reason, r.Summary()),
		Timestamp:   r.Timestamp,
		Actions:     []model.SequenceAction{model.ActionFrom(r)},
	}, true
}

// catalogue is evaluated in order at every index. On a (type, timestamp)
// collision the later match replaces the earlier one.
var catalogue = []matcher{
	pairPattern{
		typ:         TypeCredentialToNetwork,
		description: "A credential file was read and data left the host shortly after.",
		trigger:     readsCredential,
		follow: func(trigger, next model.Record) bool {
			if !signals.IsOutbound(next) {
				return false
			}
			// An SSH key followed by an SSH session is its own finding.
			return !(readsSSHKey(trigger) && signals.IsSSHConnect(signals.CommandOf(next)))
		},
	},
	burstPattern{
		typ:         TypePrivilegedBurst,
		description: "Several privileged or destructive commands ran in quick succession.",
		noun:        "privileged or destructive commands",
		member:      isPrivilegedOrDestructive,
		window:      func(c Config) time.Duration { return c.Window },
		minCount:    func(c Config) int { return c.PrivilegedBurstMin },
	},
	pairPattern{
		typ:         TypeConfigThenRestart,
		description: "Sensitive configuration was modified and a service was restarted to apply it.",
		trigger:     writesSensitiveConfig,
		follow:      func(_, next model.Record) bool { return restartsService(next) },
	},
	singlePattern{
		typ:         TypeCredentialInMessage,
		description: "An outgoing message carried credential-shaped text.",
		reason:      "credential-shaped text sent",
		trigger:     sendsCredentialText,
	},
	pairPattern{
		typ:         TypeSSHKeyToConnection,
		description: "An SSH private key was read and an SSH connection followed.",
		trigger:     readsSSHKey,
		follow: func(_, next model.Record) bool {
			return signals.IsExecTool(next) && signals.IsSSHConnect(signals.CommandOf(next))
		},
	},
	pairPattern{
		typ:          TypeCloneThenInstall,
		description:  "A repository was cloned and its dependencies installed.",
		windowFactor: 2,
		trigger:      shellMatches(signals.IsGitClone),
		follow:       func(_, next model.Record) bool { return shellMatches(signals.IsPackageInstall)(next) },
	},
	pairPattern{
		typ:         TypeDownloadThenExecute,
		description: "A remote file was downloaded and then executed.",
		trigger:     shellMatches(signals.IsDownload),
		follow:      func(_, next model.Record) bool { return shellMatches(signals.IsExecuteCommand)(next) },
	},
	pairPattern{
		typ:         TypePasswordManagerToNet,
		description: "A password manager was queried and an outbound action followed.",
		trigger:     shellMatches(signals.IsPasswordManager),
		follow:      func(_, next model.Record) bool { return signals.IsOutbound(next) },
	},
	burstPattern{
		typ:         TypeBulkEnumeration,
		description: "Many files were read in a short burst.",
		noun:        "file reads",
		member:      signals.IsReadTool,
		window:      func(c Config) time.Duration { return c.BurstWindow },
		minCount:    func(c Config) int { return c.EnumerationThreshold },
	},
	singlePattern{
		typ:         TypeScheduledTask,
		description: "A scheduled task or service was registered to run later or at boot.",
		reason:      "scheduled task created",
		trigger:     createsScheduledTask,
	},
	singlePattern{
		typ:         TypePersistenceWrite,
		description: "A file was written to a location that survives reboot or login.",
		reason:      "persistence location written",
		trigger:     writesPersistencePath,
	},
	singlePattern{
		typ:         TypeMediaCapture,
		description: "The screen, camera or microphone was captured.",
		reason:      "media captured",
		trigger:     capturesMedia,
	},
	singlePattern{
		typ:         TypeKeychainExtraction,
		description: "Secrets were read from an OS keychain or secret store.",
		reason:      "secret store read",
		trigger:     shellMatches(signals.IsKeychainExtraction),
	},
}

// Types lists the sequence types in catalogue order.
func Types() []string {
	out := make([]string, 0, len(catalogue))
	for _, m := range catalogue {
		switch p := m.(type) {
		case pairPattern:
			out = append(out, p.typ)
		case burstPattern:
			out = append(out, p.typ)
		case singlePattern:
			out = append(out, p.typ)
		}
	}
	return out
}

func shellMatches(pred func(string) bool) func(model.Record) bool {
	return func(r model.Record) bool {
		return signals.IsExecTool(r) && pred(signals.CommandOf(r))
	}
}

// commandTouches reports whether any whitespace-separated operand of a
// shell command satisfies pred.
func commandTouches(r model.Record, pred func(string) bool) bool {
	if !signals.IsExecTool(r) {
		return false
	}
	for _, tok := range strings.Fields(signals.CommandOf(r)) {
		tok = strings.Trim(tok, `"'<>;|&()`)
		if tok != "" && pred(tok) {
			return true
		}
	}
	return false
}

var fileReaders = map[string]bool{
	"cat": true, "less": true, "more": true, "head": true, "tail": true,
	"cp": true, "scp": true, "base64": true, "xxd": true, "strings": true,
	"grep": true, "awk": true, "sed": true, "tar": true, "zip": true,
}

// shellReads reports whether the command starts with a file-reading binary
// and names a path satisfying pred.
func shellReads(r model.Record, pred func(string) bool) bool {
	fields := strings.Fields(signals.NormalizeCommand(signals.CommandOf(r)))
	if len(fields) == 0 {
		return false
	}
	bin := fields[0]
	if bin == "sudo" && len(fields) > 1 {
		bin = fields[1]
	}
	return fileReaders[bin] && commandTouches(r, pred)
}

func readsCredential(r model.Record) bool {
	if signals.IsReadTool(r) {
		return signals.IsCredentialPath(signals.PathOf(r))
	}
	return shellReads(r, signals.IsCredentialPath)
}

func readsSSHKey(r model.Record) bool {
	if signals.IsReadTool(r) {
		return signals.IsSSHKeyPath(signals.PathOf(r))
	}
	return shellReads(r, signals.IsSSHKeyPath)
}

func isPrivilegedOrDestructive(r model.Record) bool {
	if !signals.IsExecTool(r) {
		return false
	}
	cmd := signals.CommandOf(r)
	return signals.IsPrivilegedCommand(cmd) || signals.IsDestructiveCommand(cmd)
}

// redirectTargets returns the files a shell command writes via > >> or tee.
func redirectTargets(cmd string) []string {
	fields := strings.Fields(cmd)
	var out []string
	for i, f := range fields {
		switch {
		case f == ">" || f == ">>" || f == "tee" || f == "-a" && i > 0 && fields[i-1] == "tee":
			if i+1 < len(fields) && !strings.HasPrefix(fields[i+1], "-") {
				out = append(out, fields[i+1])
			}
		case strings.HasPrefix(f, ">>") && len(f) > 2:
			out = append(out, f[2:])
		case strings.HasPrefix(f, ">") && len(f) > 1 && f[1] != '&':
			out = append(out, f[1:])
		}
	}
	return out
}

var inPlaceEditors = []string{"sed -i", "perl -pi", "perl -i"}

func shellWrites(r model.Record, pred func(string) bool) bool {
	if !signals.IsExecTool(r) {
		return false
	}
	cmd := signals.CommandOf(r)
	for _, target := range redirectTargets(cmd) {
		if pred(target) {
			return true
		}
	}
	lower := signals.NormalizeCommand(cmd)
	for _, ed := range inPlaceEditors {
		if strings.Contains(lower, ed) {
			return commandTouches(r, pred)
		}
	}
	return false
}

func writesSensitiveConfig(r model.Record) bool {
	if signals.IsWriteTool(r) {
		return signals.IsSensitiveConfigPath(signals.PathOf(r))
	}
	return shellWrites(r, signals.IsSensitiveConfigPath)
}

func writesPersistencePath(r model.Record) bool {
	if signals.IsWriteTool(r) {
		return signals.IsPersistencePath(signals.PathOf(r))
	}
	return shellWrites(r, signals.IsPersistencePath)
}

func restartsService(r model.Record) bool {
	if signals.IsExecTool(r) {
		return signals.IsServiceRestart(signals.CommandOf(r))
	}
	return r.ToolName() == "gateway" && strings.EqualFold(signals.ActionOf(r), "restart")
}

func sendsCredentialText(r model.Record) bool {
	if signals.CategoryOf(r.Tool) != signals.CategoryMessage || !signals.IsOutbound(r) {
		return false
	}
	return signals.ContainsCredentialText(signals.MessageOf(r))
}

var cronCreateActions = map[string]bool{"add": true, "create": true, "update": true, "schedule": true}

func createsScheduledTask(r model.Record) bool {
	if r.ToolName() == "cron" {
		return cronCreateActions[strings.ToLower(signals.ActionOf(r))]
	}
	return shellMatches(signals.IsScheduledTask)(r)
}

var nodeCaptureActions = map[string]bool{"camera_snap": true, "camera_clip": true, "screen_record": true}

func capturesMedia(r model.Record) bool {
	if r.ToolName() == "nodes" {
		return nodeCaptureActions[strings.ToLower(signals.ActionOf(r))]
	}
	return shellMatches(signals.IsMediaCapture)(r)
}

func formatDelta(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}
	return d.Round(time.Second).String()
}
