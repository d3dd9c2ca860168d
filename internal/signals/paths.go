package signals

import (
	"regexp"
	"strings"
)

// Patterns are matched against the normalized path: lower-cased, with
// backslashes turned into slashes. "~/" and absolute home prefixes match alike
// because none of the patterns is anchored at the home directory.
var (
	credentialPathPatterns = compileAll(
		`\.aws/credentials`,
		`(^|/)\.env(\.[a-z0-9_-]+)?$`,
		`credentials\.json$`,
		`(^|/)\.netrc$`,
		`(^|/)\.npmrc$`,
		`(^|/)\.pypirc$`,
		`(^|/)\.git-credentials$`,
		`(^|/)\.pgpass$`,
		`(^|/)\.vault-token$`,
		`\.docker/config\.json$`,
		`\.kube/config$`,
		`\.config/gcloud/`,
		`\.azure/`,
		`\.gnupg/`,
		`^/etc/(shadow|gshadow|master\.passwd)$`,
		`\.ssh/`,
		`(^|/)id_(rsa|dsa|ecdsa|ed25519)(_sk)?$`,
		`\.(pem|key|p12|pfx|kdbx|keychain-db)$`,
		`(^|/)secrets?\.(ya?ml|json|toml)$`,
	)

	sshKeyPathPatterns = compileAll(
		`(^|/)id_(rsa|dsa|ecdsa|ed25519)(_sk)?$`,
		`\.ssh/identity$`,
		`\.ssh/[^/]+\.pem$`,
	)

	sensitiveConfigPatterns = compileAll(
		`^/etc/ssh/sshd?_config`,
		`^/etc/sudoers`,
		`^/etc/(hosts|passwd|group|resolv\.conf|fstab|crontab)$`,
		`^/etc/pam\.d/`,
		`^/etc/(nginx|apache2|httpd|systemd|docker)/`,
		`\.ssh/(config|authorized_keys)$`,
		`(^|/)\.(bashrc|zshrc|profile|bash_profile|zprofile)$`,
		`(^|/)\.gitconfig$`,
		`\.kube/config$`,
		`\.docker/daemon\.json$`,
	)

	persistencePathPatterns = compileAll(
		`^/etc/cron`,
		`^/var/spool/cron`,
		`^/etc/systemd/system/`,
		`\.config/systemd/user/`,
		`/library/launch(agents|daemons)/`,
		`\.config/autostart/`,
		`^/etc/init\.d/`,
		`^/etc/rc\.local$`,
		`^/etc/profile\.d/`,
		`(^|/)\.(bashrc|zshrc|profile|bash_profile|zprofile)$`,
		`\.ssh/authorized_keys$`,
		`start menu/programs/startup/`,
	)
)

// NormalizePath lower-cases a path and converts Windows separators.
func NormalizePath(p string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(p)), `\`, "/")
}

// IsCredentialPath reports whether the path points at a credential store,
// key file or secrets file.
func IsCredentialPath(p string) bool {
	if strings.HasSuffix(strings.ToLower(p), ".pub") {
		return false
	}
	return matchAny(credentialPathPatterns, NormalizePath(p))
}

// IsSSHKeyPath reports whether the path is an SSH private key.
func IsSSHKeyPath(p string) bool {
	return matchAny(sshKeyPathPatterns, NormalizePath(p))
}

// IsSensitiveConfigPath reports whether the path is system or shell
// configuration whose modification changes host behaviour.
func IsSensitiveConfigPath(p string) bool {
	return matchAny(sensitiveConfigPatterns, NormalizePath(p))
}

// IsPersistencePath reports whether a write to the path survives reboot or
// login (cron, launch agents, systemd units, shell rc files).
func IsPersistencePath(p string) bool {
	return matchAny(persistencePathPatterns, NormalizePath(p))
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	if s == "" {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
