// Package client is the Go SDK for the mailcode verification API.
//
// Request a code for an address, then check what the user typed:
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.SendCode(ctx, "user@example.com"); err != nil {
//	    var apiErr *client.APIError
//	    if errors.As(err, &apiErr) {
//	        fmt.Println(apiErr.Message) // e.g. "Please wait 1 minute before requesting a new code."
//	    }
//	}
//
//	msg, err := c.VerifyCode(ctx, "user@example.com", "4821")
//
// Status reports whether a code is pending and whether a new one may be
// requested:
//
//	st, err := c.Status(ctx, "user@example.com")
//	fmt.Println(st.HasPendingVerification, st.CanRequestNewCode)
package client
