package sandbox

import (
	"strings"
	"unicode"
)

// Command policy tables. The whitelist is deliberately small: the shell
// tool exists for inspection, not administration.
var (
	commandWhitelist = []string{"ls", "pwd", "cat", "grep", "echo", "git"}

	commandBlacklist = []string{"sudo", "rm", "chmod", "curl", "wget", "nc", "netcat"}

	dangerousChars = []rune{'|', '&', ';', '>', '<', '`', '$', '\n', '\r', 0}

	gitAllowedSubcommands = []string{"status", "diff", "log", "show"}

	sensitivePaths = []string{"/etc/", "/proc/", "/sys/", "/dev/"}
)

// ValidateCommand decides whether an argv vector is executable under
// policy. Checks run in order: empty argv, program blacklist, program
// whitelist by basename, per-argument character and path rules, then
// git-specific subcommand restrictions.
func ValidateCommand(argv []string) error {
	if len(argv) == 0 {
		return violation("empty command")
	}

	program := argv[0]

	for _, blocked := range commandBlacklist {
		if strings.Contains(program, blocked) {
			return violation("blocked command: %s", program)
		}
	}

	base := program
	if idx := strings.LastIndexByte(program, '/'); idx >= 0 {
		base = program[idx+1:]
	}
	if !contains(commandWhitelist, base) {
		return violation("command not whitelisted: %s", base)
	}

	for i, arg := range argv {
		if err := validateArgument(arg, i == 0); err != nil {
			return err
		}
	}

	if base == "git" && len(argv) > 1 {
		return validateGitCommand(argv[1:])
	}
	return nil
}

func validateArgument(arg string, isProgram bool) error {
	for _, ch := range dangerousChars {
		if strings.ContainsRune(arg, ch) {
			return violation("dangerous character in argument: %q", ch)
		}
	}
	for _, r := range arg {
		if unicode.IsControl(r) && r != '\t' {
			return violation("control character in argument")
		}
	}
	if isProgram {
		return nil
	}

	if strings.Contains(arg, "..") {
		return violation("path traversal in argument")
	}
	for _, sensitive := range sensitivePaths {
		if strings.HasPrefix(arg, sensitive) {
			return violation("access to sensitive path: %s", sensitive)
		}
	}
	if strings.HasPrefix(arg, "/") && !strings.HasPrefix(arg, "/tmp") {
		return violation("absolute path not allowed")
	}
	if strings.HasPrefix(arg, "--global") || strings.HasPrefix(arg, "--system") {
		return violation("global/system config not allowed")
	}
	if arg == "-C" {
		return violation("directory change not allowed")
	}
	return nil
}

func validateGitCommand(args []string) error {
	if len(args) == 0 {
		return nil
	}
	subcommand := args[0]
	if subcommand == "config" {
		return violation("git config not allowed")
	}
	if !contains(gitAllowedSubcommands, subcommand) {
		return violation("git subcommand not allowed: %s", subcommand)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
