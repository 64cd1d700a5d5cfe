// Package hostpool keeps the ordered read and write host lists of a search
// application together with the short-term health of every host.
//
// A Tracker remembers, per host, whether the last request succeeded and when
// that happened. A host marked down stays out of rotation for a cool-down
// window, after which it is tried again. A Pool hands out the hosts of one
// role filtered through a Tracker, and never hands out an empty list: when
// every host is cooling down the full list is returned so that a dispatch
// always has somewhere to go.
//
//	tracker := hostpool.NewTracker(nil)
//	read, write := hostpool.DefaultHosts("APPID")
//	pool, err := hostpool.New(read, write)
//	if err != nil {
//	    return err
//	}
//	for _, host := range pool.Eligible(hostpool.Read, tracker, 5*time.Second) {
//	    // try host
//	}
package hostpool
