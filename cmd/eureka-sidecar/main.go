package main

import "github.com/hewenyu/eureka-sidecar/internal/cmd"

func main() {
	cmd.Execute()
}
