package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/agis/tcal/internal/contract"
	"github.com/mattn/go-isatty"
)

type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeJSON  Mode = "json"
	ModeJSONL Mode = "jsonl"
	ModePlain Mode = "plain"
)

// PlainRenderer is implemented by results that know how to print themselves
// for humans. Field projection does not apply to them.
type PlainRenderer interface {
	RenderPlain(w io.Writer) error
}

type Printer struct {
	Mode          Mode
	Command       string
	Fields        []string
	Quiet         bool
	SchemaVersion string
	Out           io.Writer
	Err           io.Writer
}

// EffectiveSuccessMode resolves auto to plain on a terminal and JSON otherwise.
func (p Printer) EffectiveSuccessMode() Mode {
	if p.Mode != ModeAuto && p.Mode != "" {
		return p.Mode
	}
	if f, ok := p.out().(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return ModePlain
	}
	return ModeJSON
}

func (p Printer) Success(data any, meta map[string]any, warnings []string) error {
	out := p.out()
	switch p.EffectiveSuccessMode() {
	case ModeJSON:
		if warnings == nil {
			warnings = []string{}
		}
		env := contract.SuccessEnvelope{
			SchemaVersion: p.schemaVersion(),
			Command:       p.Command,
			GeneratedAt:   time.Now().UTC(),
			Data:          data,
			Meta:          meta,
			Warnings:      warnings,
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	case ModeJSONL:
		v := reflect.ValueOf(data)
		if v.IsValid() && v.Kind() == reflect.Slice {
			enc := json.NewEncoder(out)
			for i := 0; i < v.Len(); i++ {
				if err := enc.Encode(v.Index(i).Interface()); err != nil {
					return err
				}
			}
			return nil
		}
		return json.NewEncoder(out).Encode(data)
	default:
		if err := p.printPlain(data); err != nil {
			return err
		}
		for _, w := range warnings {
			_, _ = fmt.Fprintf(p.err(), "warning: %s\n", w)
		}
		return nil
	}
}

func (p Printer) Error(code contract.ErrorCode, message, hint string) error {
	errOut := p.err()
	if p.Mode == ModeJSON || p.Mode == ModeJSONL {
		env := contract.ErrorEnvelope{
			SchemaVersion: p.schemaVersion(),
			Error:         contract.ErrorBody{Code: code, Message: message, Hint: hint},
		}
		enc := json.NewEncoder(errOut)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	if hint != "" {
		_, _ = fmt.Fprintf(errOut, "error: %s\nhint: %s\n", message, hint)
		return nil
	}
	_, _ = fmt.Fprintf(errOut, "error: %s\n", message)
	return nil
}

func (p Printer) out() io.Writer {
	if p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

func (p Printer) err() io.Writer {
	if p.Err == nil {
		return os.Stderr
	}
	return p.Err
}

func (p Printer) schemaVersion() string {
	if p.SchemaVersion == "" {
		return contract.SchemaVersion
	}
	return p.SchemaVersion
}

func (p Printer) printPlain(data any) error {
	out := p.out()
	if r, ok := data.(PlainRenderer); ok && len(p.Fields) == 0 {
		return r.RenderPlain(out)
	}
	v := reflect.ValueOf(data)
	if !v.IsValid() || (v.Kind() == reflect.Slice && v.Len() == 0) {
		if !p.Quiet {
			_, _ = fmt.Fprintln(out, "no results")
		}
		return nil
	}
	if v.Kind() == reflect.Slice {
		for i := 0; i < v.Len(); i++ {
			if _, err := fmt.Fprintln(out, flatten(v.Index(i).Interface(), p.Fields)); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := fmt.Fprintln(out, flatten(data, p.Fields))
	return err
}

func flatten(v any, fields []string) string {
	if len(fields) == 0 {
		b, _ := json.Marshal(v)
		return string(b)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		b, _ := json.Marshal(v)
		return string(b)
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		fv := fieldByName(rv, f)
		if !fv.IsValid() {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, plainValue(fv.Interface()))
	}
	return strings.Join(parts, "\t")
}

// fieldByName matches a projected field against json tags first, then Go
// field names ignoring case and underscores.
func fieldByName(rv reflect.Value, name string) reflect.Value {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		tag := strings.Split(rt.Field(i).Tag.Get("json"), ",")[0]
		if tag != "" && tag == name {
			return rv.Field(i)
		}
	}
	return rv.FieldByNameFunc(func(field string) bool {
		return strings.EqualFold(field, strings.ReplaceAll(name, "_", "")) || strings.EqualFold(field, name)
	})
}

func plainValue(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	case map[string]string:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}
