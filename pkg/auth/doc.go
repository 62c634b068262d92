// Package auth authenticates REST requests with HS256 bearer tokens and
// checks named permissions.
//
// # Tokens
//
// A token is a compact JWS signed with HMAC-SHA256 using the user's own key
// from the directory:
//
//	{"iss": "appmesh-auth0", "iat": 1700000000, "exp": 1700003600, "name": "mesh"}
//
// Verification always uses the key the directory holds at that moment, so
// rotating a user's key invalidates every token issued before the rotation.
// There is no other revocation mechanism and no server side session state.
//
// # Authorization
//
// Handlers call Authorize with the permission their endpoint requires:
//
//	func deleteApp(req *rest.Request) error {
//		if _, err := authorizer.Authorize(req, "app-delete"); err != nil {
//			return err
//		}
//		...
//	}
//
// The returned errors are apperr values. The dispatcher replies with their
// message, for example "User <mesh> was locked" or
// "No permission <app-delete> for user <mesh>".
//
// When the directory reports JWT as disabled, Identify returns an empty user
// and Authorize allows every request.
//
// # Directory
//
// Directory is implemented by pkg/users (YAML file, SQL, cached). Code that
// already holds user data can use DirectoryFuncs.
package auth
