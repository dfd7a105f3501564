package relay

import (
	"strconv"
	"strings"
)

// RenderStatus formats cfg as the multi-line status report shown by the
// /msg_status command.
func RenderStatus(cfg Config) string {
	targets := "未配置"
	if len(cfg.Targets) > 0 {
		targets = strings.Join(cfg.Targets, ", ")
	}

	var b strings.Builder
	b.WriteString("【消息转发插件状态】\n")
	b.WriteString("服务器: " + cfg.Host + ":" + strconv.Itoa(cfg.Port) + "\n")
	b.WriteString("目标群号: " + targets + "\n")
	b.WriteString("群数量: " + strconv.Itoa(len(cfg.Targets)) + "\n")
	b.WriteString("转发状态: " + onOff(cfg.EnableForward) + "\n")
	b.WriteString("Token 验证: " + onOff(cfg.APIToken != ""))
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "启用"
	}
	return "禁用"
}
