package signals

import (
	"strings"
)

// cmdStart anchors a binary name at the start of a command, after a shell
// separator, or after a path prefix (/usr/bin/sudo).
const cmdStart = `(?:^|[\s;&|(/])`

var (
	privilegedPatterns = compileAll(
		cmdStart+`(sudo|su|doas|pkexec|runas)(\s|$)`,
		`chmod\s+(-r\s+)?(777|[ugo]*\+s|[0-7]?[4267][0-7]{3})\b`,
		`chown\s+(-r\s+)?root`,
		`(?:^|[\s;&|(])(setcap|visudo|usermod|useradd|passwd|chpasswd)(\s|$)`,
		cmdStart+`(iptables|ip6tables|nft|ufw)\s`,
	)

	destructivePatterns = compileAll(
		`\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r|-r\s+-f|-f\s+-r|--recursive\s+--force|--force\s+--recursive)\b`,
		cmdStart+`mkfs(\.[a-z0-9]+)?\s`,
		`\bdd\s+if=`,
		cmdStart+`(shred|wipefs)\s`,
		`:\(\)\s*\{\s*:\|:&\s*\};:`,
		`>\s*/dev/(sd[a-z]|nvme\d|disk\d)`,
		`\bgit\s+push\s+(.*\s)?(--force|-f)\b`,
		`\bdrop\s+(table|database)\b`,
	)

	networkPatterns = compileAll(
		cmdStart+`(curl|wget|nc|ncat|netcat|ssh|scp|sftp|rsync|ftp|telnet|socat|aria2c|httpie|xh)(\s|$)`,
		cmdStart+`http\s+(get|post|put|delete)\s`,
		`invoke-(webrequest|restmethod)`,
		`/dev/(tcp|udp)/`,
		`\bgit\s+(push|clone|fetch|pull)\b`,
		`\brequests\.(get|post|put)\(`,
	)

	serviceRestartPatterns = compileAll(
		`\bsystemctl\s+(restart|reload|start|reload-or-restart)\b`,
		`\bservice\s+\S+\s+(restart|reload|start)\b`,
		`\blaunchctl\s+(load|kickstart|bootstrap|start)\b`,
		`\bnginx\s+-s\s+reload\b`,
		`\b(supervisorctl|pm2|docker|docker-compose)\s+restart\b`,
		`\brc-service\s+\S+\s+restart\b`,
	)

	sshConnectPatterns = compileAll(
		cmdStart+`(ssh|scp|sftp|autossh|mosh)\s`,
		`\brsync\s.*-e\s+['"]?ssh`,
		`\brsync\s.*\S+@\S+:`,
	)

	gitClonePatterns = compileAll(
		`\bgit\s+clone\b`,
		`\bgh\s+repo\s+clone\b`,
	)

	packageInstallPatterns = compileAll(
		cmdStart+`(npm|pnpm|yarn|bun)\s+(i|install|add|ci)\b`,
		cmdStart+`(pip|pip3|pipx|uv\s+pip)\s+install\b`,
		`\bpython3?\s+-m\s+pip\s+install\b`,
		`\b(poetry|uv)\s+add\b`,
		`\b(gem|cargo)\s+install\b`,
		`\bgo\s+(install|get)\b`,
		cmdStart+`(apt|apt-get|yum|dnf|apk|brew|pacman|zypper)\s+(install|add|-s)\b`,
		`\bmake\s+install\b`,
		`\bsetup\.py\s+install\b`,
	)

	downloadPatterns = compileAll(
		cmdStart+`(wget|aria2c)\s`,
		`\bcurl\b.*(\s-[a-z]*o\s|--output|--remote-name|\s>\s*\S)`,
		`invoke-webrequest.*-outfile`,
		cmdStart+`iwr\s`,
		`\bcertutil\s.*-urlcache`,
		`\bscp\s+\S+@\S+:\S+\s`,
	)

	executePatterns = compileAll(
		`\bchmod\s+([ugoa]*\+[rwx]*x|[0-7]?[1357][0-7]{2})\b`,
		cmdStart+`(bash|sh|zsh|python3?|node|perl|ruby|php)\s+(\S+/)?[\w.-]+\.(sh|py|js|pl|rb|php)\b`,
		`(?:^|[;&|]\s*)(sudo\s+)?\./\S+`,
		`(?:^|[;&|]\s*)(sudo\s+)?/tmp/\S+`,
		`\|\s*(sudo\s+)?(ba|z|da|k)?sh\b`,
		`\bsource\s+\S+|^\.\s+\S+`,
		`powershell.*-(file|encodedcommand)\b`,
		`(?:^|[;&|]\s*)\S+\.(exe|bin|run|appimage|msi)(\s|$)`,
	)

	passwordManagerPatterns = compileAll(
		cmdStart+`op\s+(item|read|signin|get|inject|run)\b`,
		cmdStart+`bw\s+(get|list|unlock|export)\b`,
		cmdStart+`lpass\s+(show|ls|export)\b`,
		cmdStart+`pass\s+(show|ls|find|grep|\S+/\S+)`,
		cmdStart+`gopass\s+(show|ls|find|cat)\b`,
		`\bkeepassxc-cli\s+(show|export|ls|clip)\b`,
		`\bvault\s+(kv\s+get|read)\b`,
		`\b1password\b`,
	)

	scheduledTaskPatterns = compileAll(
		`\bcrontab\s+(-e|-r|-\s|-$|[^-\s])`,
		`\|\s*crontab\b`,
		cmdStart+`at\s+(now|midnight|noon|teatime|\d)`,
		`\bschtasks(\.exe)?\s+/create\b`,
		`\blaunchctl\s+(load|submit|bootstrap)\b`,
		`\bsystemctl\s+(--user\s+)?enable\b`,
		`\bsystemd-run\s+.*--on-`,
		`>>?\s*/etc/cron`,
		`>>?\s*/var/spool/cron`,
		`register-scheduledtask`,
	)

	mediaCapturePatterns = compileAll(
		cmdStart+`(screencapture|imagesnap|scrot|gnome-screenshot|spectacle|grim|xwd|fswebcam|arecord|parecord)(\s|$)`,
		`\bffmpeg\s.*-f\s+(avfoundation|v4l2|x11grab|gdigrab|dshow|pulse|alsa)\b`,
		`\bimport\s+-window\b`,
		`\bsox\s.*-d\b`,
		cmdStart+`rec\s`,
		`\bcopyfromscreen\b`,
	)

	keychainPatterns = compileAll(
		`\bsecurity\s+(find-generic-password|find-internet-password|dump-keychain|export|find-certificate)\b`,
		`\bsecret-tool\s+(lookup|search)\b`,
		`\bcmdkey\s+/list\b`,
		`\bvaultcmd\b`,
		`\b(mimikatz|lazagne)\b`,
		`\bkeyring\s+get\b`,
		`\bkwallet-query\b`,
		`\bgnome-keyring-daemon\s+.*--unlock`,
	)

	listenerPatterns = compileAll(
		cmdStart+`(nc|ncat|netcat)\s+(-[a-z]*l|.*\s-[a-z]*l)`,
		`\bpython3?\s+-m\s+(http\.server|simplehttpserver)\b`,
		`\bsocat\s.*(tcp-listen|udp-listen)`,
		cmdStart+`(ngrok|cloudflared|localtunnel|lt)\s`,
		`\bssh\s.*-r\s+\d+`,
	)
)

// NormalizeCommand lower-cases and collapses whitespace in a command line.
func NormalizeCommand(cmd string) string {
	return strings.Join(strings.Fields(strings.ToLower(cmd)), " ")
}

// IsPrivilegedCommand reports privilege escalation, permission weakening,
// account and firewall manipulation.
func IsPrivilegedCommand(cmd string) bool {
	return matchAny(privilegedPatterns, NormalizeCommand(cmd))
}

// IsDestructiveCommand reports irreversible filesystem or data destruction.
func IsDestructiveCommand(cmd string) bool {
	return matchAny(destructivePatterns, NormalizeCommand(cmd))
}

// IsNetworkCommand reports commands that open an outbound connection.
func IsNetworkCommand(cmd string) bool {
	return matchAny(networkPatterns, NormalizeCommand(cmd))
}

// IsServiceRestart reports service (re)start or reload actions.
func IsServiceRestart(cmd string) bool {
	return matchAny(serviceRestartPatterns, NormalizeCommand(cmd))
}

// IsSSHConnect reports ssh, scp, sftp and rsync-over-ssh sessions.
func IsSSHConnect(cmd string) bool {
	return matchAny(sshConnectPatterns, NormalizeCommand(cmd))
}

// IsGitClone reports repository clones.
func IsGitClone(cmd string) bool {
	return matchAny(gitClonePatterns, NormalizeCommand(cmd))
}

// IsPackageInstall reports package manager installs.
func IsPackageInstall(cmd string) bool {
	return matchAny(packageInstallPatterns, NormalizeCommand(cmd))
}

// IsDownload reports commands that fetch a remote file to disk.
func IsDownload(cmd string) bool {
	return matchAny(downloadPatterns, NormalizeCommand(cmd))
}

// IsExecuteCommand reports commands that make a file executable or run a
// script or binary.
func IsExecuteCommand(cmd string) bool {
	return matchAny(executePatterns, NormalizeCommand(cmd))
}

// IsPasswordManager reports password manager CLI access.
func IsPasswordManager(cmd string) bool {
	return matchAny(passwordManagerPatterns, NormalizeCommand(cmd))
}

// IsScheduledTask reports commands that create scheduled or persistent jobs.
func IsScheduledTask(cmd string) bool {
	return matchAny(scheduledTaskPatterns, NormalizeCommand(cmd))
}

// IsMediaCapture reports screen, camera and microphone capture.
func IsMediaCapture(cmd string) bool {
	return matchAny(mediaCapturePatterns, NormalizeCommand(cmd))
}

// IsKeychainExtraction reports reads from OS keychains and secret stores.
func IsKeychainExtraction(cmd string) bool {
	return matchAny(keychainPatterns, NormalizeCommand(cmd))
}

// IsNetworkListener reports commands that open a listening socket or tunnel.
func IsNetworkListener(cmd string) bool {
	return matchAny(listenerPatterns, NormalizeCommand(cmd))
}

// IsPipeToShell detects curl|sh, wget|bash and friends structurally rather
// than by substring.
func IsPipeToShell(cmd string) bool {
	lower := NormalizeCommand(cmd)
	if !strings.Contains(lower, "|") {
		return false
	}

	downloaders := []string{"curl", "wget", "fetch", "iwr", "invoke-webrequest"}
	hasDownloader := false
	for _, d := range downloaders {
		if strings.Contains(lower, d) {
			hasDownloader = true
			break
		}
	}
	if !hasDownloader {
		return false
	}

	shells := []string{"sh", "bash", "zsh", "fish", "dash", "ksh", "python", "python3", "perl", "iex"}
	parts := strings.Split(lower, "|")
	for i := 1; i < len(parts); i++ {
		trimmed := strings.TrimPrefix(strings.TrimSpace(parts[i]), "sudo ")
		for _, s := range shells {
			if trimmed == s || strings.HasPrefix(trimmed, s+" ") {
				return true
			}
		}
	}
	return false
}
