// Package jwt issues and verifies the access and refresh tokens bound to
// authcore sessions. Both kinds carry uid, sid, jti, iat, exp, iss and aud;
// refresh tokens add the session refresh version. The typ claim keeps one
// kind from being accepted in place of the other.
package jwt
