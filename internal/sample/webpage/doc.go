// Package webpage is a sample operator serving static pages with nginx.
//
// A page is a ConfigMap labeled operatorkit.dev/webpage=true:
//
//	apiVersion: v1
//	kind: ConfigMap
//	metadata:
//	  name: hello
//	  labels:
//	    operatorkit.dev/webpage: "true"
//	  annotations:
//	    operatorkit.dev/expose: "true"
//	data:
//	  html: "<h1>Hello</h1>"
//	  replicas: "2"
//	  host: hello.example.com
//
// For every page the operator manages a ConfigMap with the HTML, an nginx
// Deployment, a Service once the Deployment is ready and, for exposed pages,
// an Ingress. The current state is written to the operatorkit.dev/status
// annotation of the page.
package webpage
