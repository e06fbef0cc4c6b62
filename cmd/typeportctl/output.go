package main

import (
    "bytes"
    "encoding/json"
    "fmt"
    "reflect"
    "strings"
    "text/tabwriter"

    "go.yaml.in/yaml/v3"
)

// Formatter renders command results.
type Formatter interface {
    Format(data any) string
}

// NewFormatter returns the formatter for "table" (default), "json" or "yaml".
func NewFormatter(format string) Formatter {
    switch strings.ToLower(format) {
    case "json":
        return jsonFormatter{}
    case "yaml":
        return yamlFormatter{}
    default:
        return tableFormatter{}
    }
}

// tableFormatter prints a slice of structs as aligned columns named after
// the fields.
type tableFormatter struct{}

func (tableFormatter) Format(data any) string {
    v := reflect.ValueOf(data)
    if v.Kind() != reflect.Slice { return fmt.Sprintf("%v\n", data) }
    if v.Len() == 0 { return "No results.\n" }
    var buf bytes.Buffer
    w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
    t := v.Index(0).Type()
    if t.Kind() != reflect.Struct {
        for i := 0; i < v.Len(); i++ { fmt.Fprintln(w, v.Index(i).Interface()) }
        _ = w.Flush()
        return buf.String()
    }
    headers := make([]string, t.NumField())
    for i := range headers { headers[i] = strings.ToUpper(t.Field(i).Name) }
    fmt.Fprintln(w, strings.Join(headers, "\t"))
    for i := 0; i < v.Len(); i++ {
        row := v.Index(i)
        cells := make([]string, row.NumField())
        for j := range cells { cells[j] = fmt.Sprintf("%v", row.Field(j).Interface()) }
        fmt.Fprintln(w, strings.Join(cells, "\t"))
    }
    _ = w.Flush()
    return buf.String()
}

type jsonFormatter struct{}

func (jsonFormatter) Format(data any) string {
    b, err := json.MarshalIndent(data, "", "  ")
    if err != nil { return fmt.Sprintf("error: %v\n", err) }
    return string(b) + "\n"
}

type yamlFormatter struct{}

func (yamlFormatter) Format(data any) string {
    b, err := yaml.Marshal(data)
    if err != nil { return fmt.Sprintf("error: %v\n", err) }
    return string(b)
}
