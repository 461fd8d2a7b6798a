/*
Package httpserver serves the loopback callback the identity provider
redirects to after the user approved (or rejected) a derived key.

Endpoints:

  - GET|POST /callback - provider redirect, parameters become a GrantResult
  - GET /cancel - abort the pending grant
  - GET /livez - liveness check
  - GET /readyz - readiness check
  - GET /drain, GET /undrain - toggle readiness

A callback with an "error" parameter is delivered as a failed grant. When no
grant is pending the server answers 409.

Example usage:

	provider := identityprovider.NewLoopbackProvider("http://127.0.0.1:8095/callback", opener, logger)
	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:8095",
		Log:                      logger,
		GracefulShutdownDuration: 5 * time.Second,
	}, httpserver.NewHandler(provider, logger))
	if err != nil {
		return err
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
