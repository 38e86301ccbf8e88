// Package paginator walks multi-page API responses.
//
// A Pager turns one logical request into a sequence of page fetches, each
// paced through a rate gate. Two continuation styles are supported: the v2
// next_token and the v1.1 numeric cursor. The pager exposes its cursor after
// every page so callers can checkpoint it and later Resume.
//
//	p := paginator.New(client, gate, paginator.Request{
//		Endpoint: twitter.EndpointSearchAll,
//		Params:   params,
//	})
//	for {
//		page, err := p.Next(ctx)
//		if err != nil {
//			return err // cursor unchanged, safe to retry
//		}
//		if page == nil {
//			break
//		}
//		save(page, p.Cursor())
//	}
package paginator
