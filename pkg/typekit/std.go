package typekit

// StdTypekit is the name of the builtin primitive typekit.
const StdTypekit = "std"

type builtin struct {
    version string
    types   func() []*TypeInfo
}

var builtins = map[string]builtin{
    StdTypekit: {version: "1.0.0", types: stdTypes},
}

func stdTypes() []*TypeInfo {
    return []*TypeInfo{
        {Name: "/bool", Kind: KindBool, Size: 1},
        {Name: "/int8_t", Kind: KindInt, Size: 1, Aliases: []string{"/char", "/signed char"}},
        {Name: "/int16_t", Kind: KindInt, Size: 2, Aliases: []string{"/short", "/short int"}},
        {Name: "/int32_t", Kind: KindInt, Size: 4, Aliases: []string{"/int"}},
        {Name: "/int64_t", Kind: KindInt, Size: 8, Aliases: []string{"/long long", "/long long int"}},
        {Name: "/uint8_t", Kind: KindUint, Size: 1, Aliases: []string{"/unsigned char"}},
        {Name: "/uint16_t", Kind: KindUint, Size: 2, Aliases: []string{"/unsigned short"}},
        {Name: "/uint32_t", Kind: KindUint, Size: 4, Aliases: []string{"/unsigned int", "/unsigned"}},
        {Name: "/uint64_t", Kind: KindUint, Size: 8, Aliases: []string{"/unsigned long long"}},
        {Name: "/float", Kind: KindFloat, Size: 4},
        {Name: "/double", Kind: KindFloat, Size: 8},
        {Name: "/std/string", Kind: KindString, Aliases: []string{"/string"}},
    }
}

// IntTypeName returns the std name of the integer type with the given
// width in bytes (e.g. /int16_t, /uint64_t).
func IntTypeName(size int, signed bool) string {
    bits := map[int]string{1: "8", 2: "16", 4: "32", 8: "64"}[size]
    if bits == "" { return "" }
    if signed { return "/int" + bits + "_t" }
    return "/uint" + bits + "_t"
}
