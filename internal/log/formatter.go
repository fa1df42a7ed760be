package log

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type formatter struct {
	pattern string
	time    string
}

type frameKey struct{}

// withFrame attaches the call site of a log record to ctx so the formatter
// can report it without logrus walking the stack itself.
func withFrame(ctx context.Context, f runtime.Frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

func frameFrom(entry *logrus.Entry) (runtime.Frame, bool) {
	if entry.Context == nil {
		return runtime.Frame{}, false
	}
	f, ok := entry.Context.Value(frameKey{}).(runtime.Frame)
	return f, ok && f.File != ""
}

// Format supports %time, %level, %field, %msg, %caller, %func, %goroutine
// and %n for a newline.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	output := f.pattern
	output = strings.Replace(output, "%time", entry.Time.Format(f.time), 1)
	output = strings.Replace(output, "%level", entry.Level.String(), 1)
	output = strings.Replace(output, "%field", buildFields(entry), 1)
	output = strings.Replace(output, "%caller", getCaller(entry), 1)
	output = strings.Replace(output, "%func", getFunc(entry), 1)
	output = strings.Replace(output, "%goroutine", getGoroutineID(), 1)
	output = strings.ReplaceAll(output, "%n", "\n")
	// msg last so that user text is never expanded as a token.
	output = strings.Replace(output, "%msg", entry.Message, 1)
	return []byte(output), nil
}

// getCaller renders pkg/file.go:line.
func getCaller(entry *logrus.Entry) string {
	frame, ok := frameFrom(entry)
	if !ok {
		return "unknown"
	}
	file := frame.File
	if i := strings.LastIndex(file, "/"); i != -1 && i+1 < len(file) {
		file = file[i+1:]
	}
	pkg := ""
	if frame.Function != "" {
		fn := frame.Function
		if i := strings.LastIndex(fn, "/"); i != -1 {
			fn = fn[i+1:]
		}
		if i := strings.Index(fn, "."); i != -1 {
			pkg = fn[:i]
		}
	}
	return fmt.Sprintf("%s/%s:%d", pkg, file, frame.Line)
}

func getFunc(entry *logrus.Entry) string {
	frame, ok := frameFrom(entry)
	if !ok {
		return "unknown"
	}
	name := frame.Function
	if i := strings.LastIndex(name, "."); i != -1 && i+1 < len(name) {
		return name[i+1:]
	}
	return name
}

func getGoroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if fields := strings.Fields(stack); len(fields) > 0 {
		return fields[0]
	}
	return "unknown"
}

// buildFields renders entry data as sorted key=value pairs.
func buildFields(entry *logrus.Entry) string {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		val, ok := entry.Data[k].(string)
		if !ok {
			val = fmt.Sprint(entry.Data[k])
		}
		fields = append(fields, k+"="+val)
	}
	return strings.Join(fields, ",")
}
