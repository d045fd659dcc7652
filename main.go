// tb-correlate — TinkerBelle audit correlation tool
//
// A batch CLI for incident response: correlate cloud audit-log events
// with Kubernetes cluster state and assemble write-once evidence bundles.
//
// Usage:
//
//	tb-correlate correlate --events trail.jsonl --snapshot pods.json --incident INC-42
//	tb-correlate snapshot --namespace harbor --out pods.json
//	tb-correlate verify bundles/INC-42.tar.gz
package main

import "github.com/tinkerbelle-io/tb-correlate/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
