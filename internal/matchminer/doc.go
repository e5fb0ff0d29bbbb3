// Package matchminer is a small client for the MatchMiner REST API.
//
// Every request carries `Authorization: Basic <token>` and a JSON body.
// Responses outside the 2xx range are returned as *APIError. The client
// never retries; callers decide what a failure means for their batch.
package matchminer
