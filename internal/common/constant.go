// Package common contains shared constants and sentinel errors used across
// brewtune components.
package common

const (
	// GraphBaseURL is the Microsoft Graph endpoint all Intune calls go to.
	// API version segments (/beta) are part of the resource paths.
	GraphBaseURL = "https://graph.microsoft.com"

	// GraphScope is the OAuth2 scope requested from the token provider.
	GraphScope = "https://graph.microsoft.com/.default"

	// StorageAPIVersion is the x-ms-version header sent with block blob requests.
	StorageAPIVersion = "2021-08-06"
)
