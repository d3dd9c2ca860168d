package risk

import (
	"regexp"

	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/signals"
)

// Field selects which argument of a record a rule is evaluated against.
type Field string

const (
	FieldCommand Field = "command"
	FieldPath    Field = "path"
	FieldURL     Field = "url"
	FieldMessage Field = "message"
	FieldAction  Field = "action"
)

// Op restricts a file rule to reads or writes.
type Op int

const (
	OpAny Op = iota
	OpRead
	OpWrite
)

// Rule is one row of a category rule table. Exactly one of Pattern or Match
// is set. Patterns see the normalized argument: commands, paths, URLs and
// actions are lower-cased, message bodies are passed through unchanged.
type Rule struct {
	Category signals.Category
	Tool     string // optional exact tool name (lower-case)
	Field    Field
	Op       Op
	Pattern  *regexp.Regexp
	Match    func(string) bool
	Level    model.Level
	Evidence string
}

func (r Rule) applies(rec model.Record) bool {
	if r.Tool != "" && r.Tool != rec.ToolName() {
		return false
	}
	switch r.Op {
	case OpRead:
		return !signals.IsWriteTool(rec)
	case OpWrite:
		return signals.IsWriteTool(rec)
	}
	return true
}

func (r Rule) matches(v string) bool {
	if v == "" {
		return false
	}
	if r.Match != nil {
		return r.Match(v)
	}
	return r.Pattern != nil && r.Pattern.MatchString(v)
}

func rx(field Field, level model.Level, pattern, evidence string) Rule {
	return Rule{Field: field, Pattern: regexp.MustCompile(pattern), Level: level, Evidence: evidence}
}

func fn(field Field, level model.Level, match func(string) bool, evidence string) Rule {
	return Rule{Field: field, Match: match, Level: level, Evidence: evidence}
}

func onOp(op Op, r Rule) Rule {
	r.Op = op
	return r
}

func onTool(tool string, r Rule) Rule {
	r.Tool = tool
	return r
}

const (
	critical = model.LevelCritical
	high     = model.LevelHigh
	medium   = model.LevelMedium
	low      = model.LevelLow
)

// shellRules run against the normalized command line.
var shellRules = []Rule{
	// Remote code execution
	fn(FieldCommand, critical, signals.IsPipeToShell, "remote code execution: download piped to interpreter"),
	rx(FieldCommand, high, `\bbase64\s+(-d|--decode)\b.*\|\s*(ba|z)?sh\b`, "obfuscated payload piped to shell"),
	rx(FieldCommand, medium, `\beval\s+["'$(]`, "dynamic shell evaluation"),

	// Destructive filesystem
	rx(FieldCommand, critical, `\brm\s+(-[a-z-]*\s+)*-[a-z]*(rf|fr)[a-z]*\s+(--no-preserve-root\s+)?(/|~/?|\$home/?)\*?(\s|$)`, "recursive deletion of filesystem root or home directory"),
	rx(FieldCommand, critical, `(^|[\s;&|(])mkfs(\.[a-z0-9]+)?\s|\bdd\s+.*of=/dev/|>\s*/dev/(sd[a-z]|nvme\d|disk\d)|\bwipefs\s`, "disk or filesystem destruction"),
	rx(FieldCommand, critical, `:\(\)\s*\{\s*:\|:&\s*\};:`, "fork bomb"),
	rx(FieldCommand, critical, `\bchmod\s+-r\s+777\s+/(\s|$)`, "recursive world-writable permissions on root"),
	fn(FieldCommand, high, signals.IsDestructiveCommand, "destructive filesystem or data operation"),

	// Privilege escalation
	rx(FieldCommand, critical, `\bsudo\s+(su|-i|-s|bash|sh|zsh)(\s|$)`, "interactive root shell"),
	rx(FieldCommand, high, `(?:^|[\s;&|(/])(sudo|su|doas|pkexec|runas)(\s|$)`, "privilege escalation via sudo/su/doas"),
	rx(FieldCommand, high, `\bchmod\s+(-r\s+)?(777|[ugo]*\+s|[0-7]?[4267][0-7]{3})\b`, "permission weakening (world-writable or setuid)"),
	rx(FieldCommand, high, `\bchown\s+(-r\s+)?root\b`, "ownership escalation to root"),
	rx(FieldCommand, high, `(?:^|[\s;&|(/])(iptables|ip6tables|nft|ufw|pfctl)\s`, "firewall modification"),
	rx(FieldCommand, high, `(?:^|[\s;&|(])(useradd|usermod|userdel|groupadd|passwd|chpasswd|visudo|setcap)(\s|$)`, "account or capability manipulation"),
	rx(FieldCommand, medium, `(?:^|[\s;&|(])(mount|umount)\s`, "filesystem mount change"),

	// Credential store access
	fn(FieldCommand, critical, signals.IsKeychainExtraction, "keychain or secret store extraction"),
	fn(FieldCommand, high, signals.IsPasswordManager, "password manager access"),
	rx(FieldCommand, high, `\b(cat|less|more|head|tail|cp|scp|base64|xxd|strings|nano|vi|vim)\s+.*(\.ssh/id_|\.aws/credentials|(^|[\s/])\.env(\s|$)|\.netrc|/etc/shadow|\.git-credentials|\.kube/config)`, "credential file accessed from shell"),
	rx(FieldCommand, high, `/proc/(self|\d+|\*)/environ`, "process environment read"),
	rx(FieldCommand, medium, `(?:^|[\s;&|(])(printenv|env)(\s*$|\s*\|)`, "environment variable dump"),

	// Cloud CLI mutation
	rx(FieldCommand, critical, `\bterraform\s+destroy\b|\baws\s+s3\s+rb\s|\baws\s+\S+\s+delete-(bucket|db-instance|cluster|stack)\b`, "destructive cloud infrastructure change"),
	rx(FieldCommand, high, `\baws\s+\S+\s+(delete|terminate|put|create|update|modify|attach|detach|remove|run)-`, "AWS CLI mutation"),
	rx(FieldCommand, high, `\bgcloud\s+.*\s(delete|create|update|set-iam-policy|add-iam-policy-binding)\b`, "gcloud CLI mutation"),
	rx(FieldCommand, high, `\baz\s+.*\s(delete|create|update|assign)\b`, "Azure CLI mutation"),
	rx(FieldCommand, high, `\bkubectl\s+(delete|apply|patch|replace|scale|drain|cordon|exec|create)\b`, "Kubernetes cluster mutation"),
	rx(FieldCommand, high, `\bterraform\s+apply\b`, "infrastructure apply"),

	// Persistence, capture, listeners
	fn(FieldCommand, high, signals.IsScheduledTask, "scheduled task or persistence mechanism"),
	fn(FieldCommand, high, signals.IsMediaCapture, "screen, camera or microphone capture"),
	fn(FieldCommand, high, signals.IsNetworkListener, "network listener or tunnel opened"),
	rx(FieldCommand, medium, `\bhistory\s+-c\b|\bunset\s+histfile\b|>\s*~/\.(bash|zsh)_history`, "shell history tampering"),

	// Lower-tier activity
	fn(FieldCommand, medium, signals.IsDownload, "remote file download"),
	fn(FieldCommand, medium, signals.IsPackageInstall, "package installation"),
	fn(FieldCommand, medium, signals.IsServiceRestart, "service restart or reload"),
	fn(FieldCommand, medium, signals.IsNetworkCommand, "outbound network command"),
	fn(FieldCommand, low, signals.IsGitClone, "repository clone"),
}

// fileRules run against the normalized path.
var fileRules = []Rule{
	rx(FieldPath, critical, `^/etc/(shadow|gshadow|master\.passwd|sudoers)(\.d/|$)`, "system password or sudoers file"),
	onOp(OpWrite, fn(FieldPath, critical, signals.IsSSHKeyPath, "SSH private key overwritten")),
	onOp(OpWrite, rx(FieldPath, critical, `\.ssh/authorized_keys$`, "SSH authorized_keys modified")),
	onOp(OpRead, fn(FieldPath, high, signals.IsSSHKeyPath, "SSH private key read")),
	fn(FieldPath, high, signals.IsCredentialPath, "credential file access"),
	rx(FieldPath, high, `/proc/(self|\d+)/(environ|mem|maps)$`, "process memory or environment access"),
	rx(FieldPath, high, `(cookies|login data|web data|key4\.db|logins\.json|cookies\.sqlite)$`, "browser credential store"),
	rx(FieldPath, high, `\.(kdbx|keychain-db|keychain)$|(^|/)keychains/`, "password database"),
	onOp(OpWrite, fn(FieldPath, high, signals.IsPersistencePath, "write to persistence location")),
	onOp(OpWrite, fn(FieldPath, high, signals.IsSensitiveConfigPath, "sensitive system configuration modified")),
	onOp(OpRead, fn(FieldPath, medium, signals.IsSensitiveConfigPath, "sensitive system configuration read")),
	onOp(OpWrite, rx(FieldPath, medium, `(^|/)\.git/(hooks/|config$)`, "git hooks or config modified")),
	onOp(OpWrite, rx(FieldPath, medium, `\.(sh|bash|ps1|bat|cmd|command)$`, "script file written")),
}

// urlRules are shared by the network and browser categories.
var urlRules = []Rule{
	rx(FieldURL, critical, `169\.254\.169\.254|metadata\.google\.internal|100\.100\.100\.200`, "cloud instance metadata endpoint"),
	rx(FieldURL, high, `/checkout|/payment|stripe\.com/v1/(charges|payment_intents)|paypal\.com/v[12]/(payments|checkout)`, "payment endpoint"),
	rx(FieldURL, high, `/oauth/token|/api/keys|/api-keys`, "credential issuing endpoint"),
	rx(FieldURL, high, `/account/delete|/settings/security`, "account security endpoint"),
	rx(FieldURL, high, `pastebin\.com|transfer\.sh|webhook\.site|requestbin|pipedream\.net|ngrok\.io|ngrok-free\.app|0x0\.st|file\.io|hastebin|ghostbin|interact\.sh|burpcollaborator`, "paste or exfiltration host"),
	rx(FieldURL, high, `^file://`, "local file URL"),
	rx(FieldURL, medium, `[?&](access_token|token|api_key|apikey|key|password|secret)=`, "credential in URL query"),
	rx(FieldURL, medium, `\.(sh|exe|msi|dmg|pkg|deb|rpm|appimage|ps1)(\?|$)`, "executable download URL"),
}

var browserRules = append(append([]Rule{}, urlRules...),
	rx(FieldAction, medium, `^(evaluate|upload|download)$`, "browser script evaluation or file transfer"),
)

// messageRules run against the outgoing message body.
var messageRules = []Rule{
	fn(FieldMessage, critical, signals.ContainsCredentialText, "credential-shaped text in outgoing message"),
	rx(FieldMessage, medium, `(?i)\b(password|passphrase|private key|api key|seed phrase|recovery code)s?\b`, "message mentions secrets"),
	rx(FieldMessage, medium, `(?i)https?://\S*(pastebin|transfer\.sh|webhook\.site|ngrok)`, "message links to paste or exfiltration host"),
}

// systemRules run against the system tool's action, or its command if any.
var systemRules = []Rule{
	onTool("cron", rx(FieldAction, high, `^(add|create|update|schedule|wake|run)$`, "scheduled job created or modified")),
	onTool("gateway", rx(FieldAction, high, `^(config\.apply|config\.patch|update|update\.run|restart)$`, "agent gateway reconfiguration or restart")),
	onTool("nodes", rx(FieldAction, high, `^(camera_snap|camera_clip|screen_record|location_get|run|invoke)$`, "remote node capture or execution")),
	onTool("process", rx(FieldAction, medium, `^(kill|terminate|signal)$`, "process termination")),
	fn(FieldCommand, high, signals.IsPrivilegedCommand, "privileged system command"),
	fn(FieldCommand, high, signals.IsScheduledTask, "scheduled task or persistence mechanism"),
}

// memoryRules run against content written to agent memory.
var memoryRules = []Rule{
	fn(FieldMessage, high, signals.ContainsCredentialText, "credential-shaped text stored in agent memory"),
}

// builtinRules returns the category tables. Categories absent from the map,
// including other, carry no rules.
func builtinRules() map[signals.Category][]Rule {
	return map[signals.Category][]Rule{
		signals.CategoryShell:   shellRules,
		signals.CategoryFile:    fileRules,
		signals.CategoryNetwork: urlRules,
		signals.CategoryBrowser: browserRules,
		signals.CategoryMessage: messageRules,
		signals.CategorySystem:  systemRules,
		signals.CategoryMemory:  memoryRules,
	}
}

// DefaultField is the argument a category's rules are evaluated against when
// a catalogue entry does not name one.
func DefaultField(c signals.Category) Field {
	switch c {
	case signals.CategoryShell:
		return FieldCommand
	case signals.CategoryFile:
		return FieldPath
	case signals.CategoryNetwork, signals.CategoryBrowser:
		return FieldURL
	case signals.CategoryMessage, signals.CategoryMemory:
		return FieldMessage
	case signals.CategorySystem:
		return FieldAction
	}
	return ""
}
