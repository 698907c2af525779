// Package hooks runs package scriptlets in an embedded Tengo sandbox with a
// restricted standard environment.
package hooks

import (
	"os"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/errors"
)

// allowedModules is the fixed whitelist of Tengo standard library modules
// available to scriptlets. Notably absent: "os", so scripts get no ambient
// filesystem or process capability.
var allowedModules = []string{"text", "math", "times", "fmt", "rand"}

// Sandbox executes scriptlets. The target root is bound as the global
// variable `target_root`; a script signals failure by raising a runtime error
// or assigning a non-empty `err`.
type Sandbox struct{}

// NewSandbox creates a new scriptlet sandbox.
func NewSandbox() *Sandbox {
	return &Sandbox{}
}

// RunScript compiles and runs a scriptlet. A panic raised inside the VM (for
// example an integer division by zero) is reported as a scriptlet failure.
func (s *Sandbox) RunScript(content []byte, targetRoot string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errors.ErrScriptletFailed, "script panicked: %v", r)
		}
	}()

	script := tengo.NewScript(content)

	modules := stdlib.GetModuleMap(allowedModules...)
	modules.AddBuiltinModule("aurora", map[string]tengo.Object{
		"info": &tengo.UserFunction{Name: "info", Value: logFunc(logger.Info)},
		"warn": &tengo.UserFunction{Name: "warn", Value: logFunc(logger.Warn)},
	})
	script.SetImports(modules)

	if err := script.Add("target_root", targetRoot); err != nil {
		return errors.Wrap(errors.ErrScriptletFailed, err.Error())
	}

	compiled, err := script.Run()
	if err != nil {
		return errors.Wrapf(errors.ErrScriptletFailed, "%v", err)
	}

	if errVar := compiled.Get("err"); errVar != nil {
		switch v := errVar.Value().(type) {
		case error:
			return errors.Wrapf(errors.ErrScriptletFailed, "%v", v)
		case string:
			if v != "" {
				return errors.Wrap(errors.ErrScriptletFailed, v)
			}
		}
	}
	return nil
}

// RunScriptFromFile loads a scriptlet from disk and runs it.
func (s *Sandbox) RunScriptFromFile(path, targetRoot string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(errors.ErrScriptletFailed, "cannot read script %s: %v", path, err)
	}
	return s.RunScript(content, targetRoot)
}

// logFunc adapts a logger function into a Tengo builtin taking one message
// argument.
func logFunc(log func(msg string, fields ...logger.Fields)) tengo.CallableFunc {
	return func(args ...tengo.Object) (tengo.Object, error) {
		if len(args) != 1 {
			return nil, tengo.ErrWrongNumArguments
		}
		msg, ok := tengo.ToString(args[0])
		if !ok {
			return nil, tengo.ErrInvalidArgumentType{Name: "msg", Expected: "string"}
		}
		log(msg, logger.Fields{"source": "scriptlet"})
		return tengo.UndefinedValue, nil
	}
}
