// leachctl -- CLI client for inspecting a running leachd process.
package main

import "github.com/wsnsim/leach/cmd/leachctl/commands"

func main() {
	commands.Execute()
}
