package config

import (
    "fmt"
    "strings"
)

// ComponentConfig declares a task context and its interface.
// Example YAML:
// components:
//   - name: producer
//     ports:
//       - {name: out, direction: output, type: /int32_t}
//     properties:
//       - {name: gain, type: /double, doc: "output gain", value: "1.5"}
type ComponentConfig struct {
    Name       string           `mapstructure:"name"`
    Ports      []PortConfig     `mapstructure:"ports"`
    Properties []PropertyConfig `mapstructure:"properties"`
    Labels     map[string]string `mapstructure:"labels"`
}

// PortConfig declares one port of a component.
type PortConfig struct {
    Name string `mapstructure:"name"`
    // Direction: input or output
    Direction string `mapstructure:"direction"`
    Type      string `mapstructure:"type"`
}

// PropertyConfig declares a property and optionally its initial value,
// given in the textual form of its type.
type PropertyConfig struct {
    Name  string `mapstructure:"name"`
    Type  string `mapstructure:"type"`
    Doc   string `mapstructure:"doc"`
    Value string `mapstructure:"value"`
}

// ConnectionSpec connects two ports by path (component.port). To may name a
// port of a remote process when Endpoint is set. Stream connections name only
// one side and a Topic.
type ConnectionSpec struct {
    From      string  `mapstructure:"from"`
    To        string  `mapstructure:"to"`
    Endpoint  string  `mapstructure:"endpoint"`
    Transport string  `mapstructure:"transport"`
    Topic     string  `mapstructure:"topic"`
    // Type: data, buffer or circular
    Type      string  `mapstructure:"type"`
    Size      int     `mapstructure:"size"`
    Init      bool    `mapstructure:"init"`
    Format    string  `mapstructure:"format"`
    Priority  string  `mapstructure:"priority"`
    RateLimit float64 `mapstructure:"rate_limit"`
}

func (c *Config) validateDeployment() error {
    seen := make(map[string]bool)
    for i := range c.Components {
        comp := &c.Components[i]
        comp.Name = strings.TrimSpace(comp.Name)
        if comp.Name == "" { return fmt.Errorf("components[%d]: name required", i) }
        if seen[comp.Name] { return fmt.Errorf("components[%d]: duplicate name %q", i, comp.Name) }
        seen[comp.Name] = true
        for j := range comp.Ports {
            p := &comp.Ports[j]
            p.Direction = strings.ToLower(strings.TrimSpace(p.Direction))
            if p.Direction != "input" && p.Direction != "output" {
                return fmt.Errorf("components[%d].ports[%d]: direction must be input or output, got %q", i, j, p.Direction)
            }
            if p.Name == "" || p.Type == "" { return fmt.Errorf("components[%d].ports[%d]: name and type required", i, j) }
        }
        for j, p := range comp.Properties {
            if p.Name == "" || p.Type == "" { return fmt.Errorf("components[%d].properties[%d]: name and type required", i, j) }
        }
    }
    for i := range c.Connections {
        cs := &c.Connections[i]
        cs.Transport = strings.ToLower(strings.TrimSpace(cs.Transport))
        if cs.From == "" && cs.To == "" { return fmt.Errorf("connections[%d]: from or to required", i) }
        if cs.Transport == "stream" {
            if cs.Topic == "" { return fmt.Errorf("connections[%d]: stream needs a topic", i) }
            continue
        }
        if cs.From == "" || cs.To == "" { return fmt.Errorf("connections[%d]: from and to required", i) }
        if cs.Endpoint == "" && !strings.Contains(cs.To, ".") {
            return fmt.Errorf("connections[%d]: to must be component.port, got %q", i, cs.To)
        }
    }
    return nil
}
