// Package client is the Go client for the fleet HTTP API used by the CLI.
//
// Errors returned by the server are decoded back into apierr errors, so
// callers can classify them with apierr.IsConflict, apierr.IsNotFound and
// the other predicates exactly as they would in-process.
//
//	c, err := client.NewClient("127.0.0.1:8080")
//	taskID, err := c.Submit(ctx, &api.SubmitRequest{UniverseID: id, Kind: "Resize", Params: raw})
//	info, err := c.WaitForTask(ctx, taskID, 2*time.Second)
package client
