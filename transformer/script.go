package transformer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/eddielth/vmstats-trans/logger"
)

// Script runs a user supplied JavaScript transform(fields) function that
// returns extra record fields.
type Script struct {
	vm        *goja.Runtime
	transform goja.Callable
	path      string
	mu        sync.Mutex
}

// LoadScript compiles code, or the file at path when code is empty.
func LoadScript(code, path string, log *logger.Logger) (*Script, error) {
	if code == "" {
		if path == "" {
			return nil, fmt.Errorf("no script code or script path provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load script file %s: %w", path, err)
		}
		code = string(b)
	}

	vm := goja.New()

	// helpers
	_ = vm.Set("log", func(msg string) {
		log.Info("[JS] %s", msg)
	})

	_ = vm.Set("parseJSON", func(jsonStr string) interface{} {
		var data interface{}
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			log.Warn("failed to parse JSON: %v", err)
			return nil
		}
		return data
	})

	_ = vm.Set("formatDate", func(timestamp int64, format string) string {
		if format == "" {
			format = "2006-01-02 15:04:05"
		}
		return time.Unix(timestamp, 0).Format(format)
	})

	_ = vm.Set("gibToTib", func(value float64) float64 {
		return value / 1024
	})

	_ = vm.Set("round", func(value float64, places int) float64 {
		p := math.Pow(10, float64(places))
		return math.Round(value*p) / p
	})

	if _, err := vm.RunString(code); err != nil {
		return nil, fmt.Errorf("failed to run script: %w", err)
	}

	transformValue := vm.Get("transform")
	if transformValue == nil {
		return nil, fmt.Errorf("script does not define a 'transform' function")
	}
	transform, ok := goja.AssertFunction(transformValue)
	if !ok {
		return nil, fmt.Errorf("'transform' is not a function")
	}

	return &Script{vm: vm, transform: transform, path: path}, nil
}

// Apply calls transform(fields) and returns the extra fields it produced.
// Keys already present in fields are dropped from the result.
func (s *Script) Apply(fields map[string]string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	arg := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		arg[k] = v
	}

	result, err := s.transform(goja.Undefined(), s.vm.ToValue(arg))
	if err != nil {
		return nil, fmt.Errorf("transform failed: %w", err)
	}
	if goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}

	obj, ok := result.Export().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transform must return an object, got %T", result.Export())
	}

	extras := make(map[string]string, len(obj))
	for k, v := range obj {
		if _, canonical := fields[k]; canonical {
			continue
		}
		switch x := v.(type) {
		case string:
			extras[k] = x
		case bool:
			extras[k] = strconv.FormatBool(x)
		case int64:
			extras[k] = strconv.FormatInt(x, 10)
		case float64:
			extras[k] = strconv.FormatFloat(x, 'f', -1, 64)
		case nil:
		default:
			return nil, fmt.Errorf("transform returned unsupported value for %s: %T", k, v)
		}
	}
	return extras, nil
}
