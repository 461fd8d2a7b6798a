/*
Package authflow runs the derived key authorization.

An attempt moves through

	Idle → AwaitingProviderRedirect → AuthorizingOnChain → AppendingMetadata →
	SigningLocally → Submitting → ConfirmPending → Valid

and ends in Valid, Failed or Rejected (the provider grant was cancelled or
returned an error). Nothing is stored before the chain reports the derived
key as valid. Attempts for a root key that is already being authorized fail
with interfaces.ErrAuthorizationInProgress.

Example usage:

	flow := authflow.New(authflow.DefaultConfig(), provider, chain, sessions, alerter, logger)
	if result := flow.Authenticate(ctx, ""); !result.OK {
		return result.Err
	}
*/
package authflow
