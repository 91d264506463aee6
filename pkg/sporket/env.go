package sporket

import "os"

// PasswordEnvVar is the environment variable holding the shared secret
//. Both server and client read it independently.
const PasswordEnvVar = "SPORKET_PASSWORD"

func passwordFromEnv() string {
	return os.Getenv(PasswordEnvVar)
}
