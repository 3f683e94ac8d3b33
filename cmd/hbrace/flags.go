package main

import "strings"

// extractConfigFlag pulls a leading or interspersed "-config path" (or
// "-config=path") out of args, returning the path and the remaining
// arguments in their original relative order. All three subcommands
// accept this flag the same way, so it lives here rather than being
// duplicated in build.go/run.go/test.go.
func extractConfigFlag(args []string) (configPath string, rest []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-config=") {
			configPath = strings.TrimPrefix(arg, "-config=")
			continue
		}
		if arg == "-config" {
			if i+1 < len(args) {
				i++
				configPath = args[i]
			}
			continue
		}
		rest = append(rest, arg)
	}
	return configPath, rest
}

// needsValue returns true if a go build/test flag expects a following
// argument rather than being boolean or "=value" form.
func needsValue(flag string) bool {
	valueFlags := []string{
		"-ldflags", "-gcflags", "-asmflags", "-gccgoflags",
		"-tags", "-installsuffix", "-buildmode", "-mod",
		"-modfile", "-overlay", "-pkgdir", "-toolexec",
		"-run", "-bench", "-benchtime", "-blockprofile", "-blockprofilerate",
		"-coverprofile", "-covermode", "-count", "-cpu", "-cpuprofile",
		"-memprofile", "-memprofilerate", "-mutexprofile", "-mutexprofilefraction",
		"-outputdir", "-parallel", "-timeout", "-trace",
	}
	for _, vf := range valueFlags {
		if strings.HasPrefix(flag, vf+"=") {
			return false
		}
		if flag == vf {
			return true
		}
	}
	return false
}
