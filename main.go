package main

import "github.com/joshleeeeee/dify-feishu-bot/cmd"

func main() {
	cmd.Execute()
}
