package bootstrap

import (
	// code 节点内置函数注册
	_ "intellibotic/internal/adapter/function/builtin/echo"
	_ "intellibotic/internal/adapter/function/builtin/mathadd"
	_ "intellibotic/internal/adapter/function/builtin/textlength"
	_ "intellibotic/internal/adapter/function/builtin/textreplace"
	_ "intellibotic/internal/adapter/function/builtin/textupper"

	"intellibotic/internal/domain/simulator"
	applog "intellibotic/internal/platform/log"
)

// Functions 返回已注册的 code 节点函数名并记录日志
func Functions() []string {
	names := simulator.FunctionNames()
	if len(names) == 0 {
		applog.Warn("⚠️  No code functions registered, code nodes will fail")
		return names
	}
	applog.Infof("✅ Registered %d code functions: %v", len(names), names)
	return names
}
