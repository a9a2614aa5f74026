package session

import "crypto/sha1"

// nativePasswordToken computes the mysql_native_password challenge
// response for password against nonce: SHA1(password) XOR
// SHA1(nonce || SHA1(SHA1(password))), grounded on session.py's
// do_authenticate (passwd_sha XOR SHA1(nonce + SHA1(passwd_sha))) rather
// than a literal parse of the prose description, since the literal
// parse would not interoperate with real mysql_native_password clients.
func nativePasswordToken(password string, nonce [20]byte) [20]byte {
	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(nonce[:])
	h.Write(stage2[:])
	hashedNonce := h.Sum(nil)

	var token [20]byte
	for i := range token {
		token[i] = stage1[i] ^ hashedNonce[i]
	}
	return token
}

// authenticatesEmptyPassword reports whether authResponse is the empty
// auth response a client sends for a blank password.
func authenticatesEmptyPassword(authResponse []byte) bool {
	return len(authResponse) == 0
}
