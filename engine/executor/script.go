package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Script runs user code as a CEL expression in a restricted environment:
// no filesystem, process, or network access; the expression sees only
// `inputs` (a frozen name-keyed map of predecessor outputs) plus the
// strings/math/encoders/lists extension builtins and a log() function
// whose writes stream as node-output events.
type Script struct {
	defaultTimeout time.Duration

	mu    sync.Mutex
	cache map[string]*scriptProgram
}

// scriptProgram is one compiled expression. The log binding reads the
// current emit through the program's mutex, which Execute holds for the
// whole evaluation, so concurrent runs of the same expression serialize
// instead of crossing their log streams.
type scriptProgram struct {
	prg cel.Program

	mu   sync.Mutex
	emit exec.EmitFunc
}

// NewScript creates the script executor. defaultTimeout applies when the
// node config does not set one.
func NewScript(defaultTimeout time.Duration) *Script {
	return &Script{
		defaultTimeout: defaultTimeout,
		cache:          make(map[string]*scriptProgram),
	}
}

// Validate rejects a script node with no code or code that does not compile
func (s *Script) Validate(node *workflow.Node) error {
	code := exec.ConfString(node.Data, "code")
	if code == "" {
		return fmt.Errorf("script node %q has no code", node.Name())
	}
	if _, err := s.program(code); err != nil {
		return fmt.Errorf("script node %q: %w", node.Name(), err)
	}
	return nil
}

func (s *Script) Execute(ctx context.Context, node *workflow.Node, ectx exec.Context, emit exec.EmitFunc) (*exec.Result, error) {
	code := exec.ConfString(node.Data, "code")
	if code == "" {
		return nil, fmt.Errorf("script node has no code")
	}

	sp, err := s.program(code)
	if err != nil {
		return nil, err
	}

	inputs, err := scriptInputs(node, ectx)
	if err != nil {
		return nil, err
	}

	timeout := s.defaultTimeout
	if ms := exec.ConfInt(node.Data, "timeoutMs", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.emit = emit

	out, _, err := sp.prg.ContextEval(evalCtx, map[string]interface{}{"inputs": inputs})
	sp.emit = nil
	if err != nil {
		if evalCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("script timed out after %s", timeout)
		}
		return nil, fmt.Errorf("script evaluation: %w", err)
	}

	return &exec.Result{Output: nativeValue(out)}, nil
}

// program compiles and caches one expression
func (s *Script) program(code string) (*scriptProgram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sp, ok := s.cache[code]; ok {
		return sp, nil
	}

	sp := &scriptProgram{}
	env, err := cel.NewEnv(
		cel.Variable("inputs", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
		ext.Math(),
		ext.Encoders(),
		ext.Lists(),
		cel.Function("log",
			cel.Overload("log_dyn", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					sp.logValue(val)
					return val
				}))),
	)
	if err != nil {
		return nil, fmt.Errorf("create script environment: %w", err)
	}

	ast, issues := env.Compile(code)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile script: %w", issues.Err())
	}

	prg, err := env.Program(ast, cel.InterruptCheckFrequency(64))
	if err != nil {
		return nil, fmt.Errorf("build script program: %w", err)
	}

	sp.prg = prg
	s.cache[code] = sp
	return sp, nil
}

// logValue streams one log() call. Execute holds sp.mu during evaluation,
// so reading emit here is safe.
func (sp *scriptProgram) logValue(val ref.Val) {
	if sp.emit == nil {
		return
	}
	sp.emit(exec.AgentEvent{Type: exec.StreamLog, Text: stringifyScriptValue(nativeValue(val))})
}

// scriptInputs builds the frozen inputs map: an explicit inputSelection of
// node names, or every ancestor with an output.
func scriptInputs(node *workflow.Node, ectx exec.Context) (map[string]interface{}, error) {
	inputs := make(map[string]interface{})

	if selection := exec.ConfStringSlice(node.Data, "inputSelection"); len(selection) > 0 {
		for _, name := range selection {
			id, ok := ectx.NodeIDByName(name)
			if !ok {
				return nil, fmt.Errorf("input selection names unknown node %q", name)
			}
			if output, ok := ectx.NodeOutput(id); ok {
				inputs[name] = output
			}
		}
		return inputs, nil
	}

	for _, id := range ectx.Graph().Ancestors(node.ID) {
		output, ok := ectx.NodeOutput(id)
		if !ok {
			continue
		}
		if name := ectx.NodeName(id); name != "" {
			inputs[name] = output
		}
	}
	return inputs, nil
}

// nativeValue converts a CEL value to plain Go data
func nativeValue(val ref.Val) interface{} {
	if val == nil {
		return nil
	}
	if native, err := val.ConvertToNative(reflect.TypeOf(&structpb.Value{})); err == nil {
		return native.(*structpb.Value).AsInterface()
	}
	return val.Value()
}

func stringifyScriptValue(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(raw)
}
