package main

import "github.com/chungweeeei/RobotAPI/cli"

func main() {
	cli.Run()
}
