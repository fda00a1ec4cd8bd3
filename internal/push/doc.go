// Package push holds the notification domain types shared by the store,
// gateway, scheduler and dispatch packages: the payload, the audience
// variant, delivery results and the error taxonomy.
package push
