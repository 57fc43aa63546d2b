// Command supportctl is the operator tool for the support chat server.
package main

import "github.com/libnamic/support-chat/cmd/supportctl/cmd"

func main() {
	cmd.Execute()
}
