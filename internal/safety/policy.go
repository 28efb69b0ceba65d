// Package safety decides whether a proposed shell command may run without
// operator confirmation. The decision logic is a Starlark program so users
// can replace the built-in rules with their own file; anything the policy
// does not explicitly allow stays gated.
package safety

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/anvilworks/anvil/internal/fault"
)

// allowFunc is the global a policy program must define:
// allow(command, argv) -> bool.
const allowFunc = "allow"

// defaultPolicy is the built-in rule set: read-only inspection commands and
// common build tools run unattended, everything else waits for the operator.
// A policy file given by the user replaces this entirely.
const defaultPolicy = `# Command auto-approval policy.
#
# allow(command, argv) is called with the raw command line and its
# whitespace-split tokens. Return True to let the command run without
# operator confirmation. Errors and non-boolean returns are treated
# as a denial.

SAFE_COMMANDS = [
    "ls", "cat", "head", "tail", "grep", "find", "pwd", "whoami",
    "git", "npm", "yarn", "pip", "python", "node", "java", "javac",
    "gradle", "mvn", "xcodebuild", "flutter", "dart", "cargo",
]

# Subcommands that mutate remote or working-tree state even though the
# parent tool is otherwise safe.
UNSAFE_SUBCOMMANDS = {
    "git": ["push", "reset", "clean", "checkout", "rebase"],
    "npm": ["publish", "unpublish"],
    "yarn": ["publish"],
    "pip": ["uninstall"],
    "cargo": ["publish"],
}

# Shell syntax that can chain an unsafe command behind a safe one.
METACHARACTERS = [";", "|", "&", ">", "<", "` + "`" + `", "$("]

def allow(command, argv):
    if len(argv) == 0:
        return False
    for ch in METACHARACTERS:
        if ch in command:
            return False
    head = argv[0]
    if head not in SAFE_COMMANDS:
        return False
    unsafe = UNSAFE_SUBCOMMANDS.get(head)
    if unsafe and len(argv) > 1 and argv[1] in unsafe:
        return False
    return True
`

// Policy is a compiled auto-approval program. The zero value is unusable;
// construct with Default, Load, or LoadFile. A nil Policy denies everything.
type Policy struct {
	mu    sync.Mutex // starlark threads are single-use per call chain
	allow starlark.Callable
	name  string
	log   zerolog.Logger
}

// Default returns the built-in policy.
func Default(logger zerolog.Logger) *Policy {
	p, err := Load("builtin", []byte(defaultPolicy), logger)
	if err != nil {
		// The built-in source is a constant; failing to compile it is a
		// programming error.
		panic(fmt.Sprintf("built-in safety policy does not compile: %v", err))
	}
	return p
}

// Load compiles a policy program. name appears in diagnostics.
func Load(name string, src []byte, logger zerolog.Logger) (*Policy, error) {
	thread := &starlark.Thread{Name: "safety-policy"}
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, name, src, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindUnknown, err, fmt.Sprintf("compile safety policy %s", name))
	}
	fn, ok := globals[allowFunc]
	if !ok {
		return nil, fault.Newf(fault.KindUnknown, "safety policy %s does not define %s()", name, allowFunc)
	}
	callable, ok := fn.(starlark.Callable)
	if !ok {
		return nil, fault.Newf(fault.KindUnknown, "safety policy %s: %s is %s, not a function", name, allowFunc, fn.Type())
	}
	return &Policy{allow: callable, name: name, log: logger}, nil
}

// LoadFile reads and compiles a policy from path.
func LoadFile(path string, logger zerolog.Logger) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindUnknown, err, "read safety policy")
	}
	return Load(path, src, logger)
}

// Allows reports whether command may run without operator confirmation.
// Evaluation errors and non-boolean results deny.
func (p *Policy) Allows(command string) bool {
	if p == nil {
		return false
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}

	fields := strings.Fields(command)
	argv := make([]starlark.Value, len(fields))
	for i, f := range fields {
		argv[i] = starlark.String(f)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	thread := &starlark.Thread{Name: "safety-policy"}
	res, err := starlark.Call(thread, p.allow, starlark.Tuple{starlark.String(command), starlark.NewList(argv)}, nil)
	if err != nil {
		p.log.Warn().Err(err).Str("policy", p.name).Str("command", command).
			Msg("safety policy evaluation failed, denying auto-approval")
		return false
	}
	verdict, ok := res.(starlark.Bool)
	if !ok {
		p.log.Warn().Str("policy", p.name).Str("result", res.Type()).
			Msg("safety policy returned non-boolean, denying auto-approval")
		return false
	}
	return bool(verdict)
}

// Name identifies the policy source in logs and status output.
func (p *Policy) Name() string {
	if p == nil {
		return "none"
	}
	return p.name
}
