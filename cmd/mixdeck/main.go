// mixdeck 多路混音、录音、变速与流式播放的命令行工具
//
// Usage:
//
//	mixdeck [flags] <command> [args]
//
// Commands:
//
//	mix        离线混缩或实时混音播放
//	play       播放单个文件
//	record     录音，可选降噪和 Opus 编码
//	mixrecord  边录音边与伴奏混音
//	stretch    变速播放或导出
//	stream     实时混音并推送到远程监听端
//	listen     接收远程 Opus/PCM 数据并播放
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
