// Command mcp-frob-oauth runs the frob-to-OAuth2 bridge as an HTTP service.
package main

// version can be set during build with -ldflags
var version = "dev"

func main() {
	Execute(version)
}
