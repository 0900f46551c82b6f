// Package auth implements the OAuth approval and credential-capture flow
// layered on top of an external authorization provider component.
//
// The flow has two variants. On the direct-credential path the user submits
// Canvas credentials on the approval form and authorization completes
// immediately. On the federated-identity path the credentials are staged
// under a server-side state token, the user is redirected to an upstream
// identity provider, and the callback promotes the staged credentials to the
// vault once the user identity is known.
//
// This package does not implement an OAuth server: authorization-code
// bookkeeping (client registration, token issuance) is delegated to the
// Authorizer collaborator.
package auth
